// Package metadata reads the well-known keys the client stamps on a
// session's metadata when an upload is submitted.
package metadata

const (
	KeyFilename  = "filename"
	KeyLocalPath = "local_path"
)

func GetFilename(metadata map[string]string) string {
	keys := []string{
		KeyFilename,
		"original_filename",
	}

	for _, key := range keys {
		if name, ok := metadata[key]; ok {
			return name
		}
	}
	return ""
}

// GetLocalPath returns the absolute path of the source file on the machine
// that submitted the upload, or "" for sessions created elsewhere.
func GetLocalPath(metadata map[string]string) string {
	return metadata[KeyLocalPath]
}
