package status

import (
	"encoding/json"
	"net/http"

	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/version"
)

type VersionHandler struct{}

func (vh *VersionHandler) ServeHTTP(rw http.ResponseWriter, _ *http.Request) {
	resp := &version.Response{
		Repo:             version.GitRepo,
		LatestReleaseTag: version.LatestReleaseTag,
		GitShortSha:      version.GitShortSha,
	}

	enc := json.NewEncoder(rw)
	enc.Encode(resp)
}
