package transport

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"path"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/models"
	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/session"
	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/storeaz"
)

// AzureOptions configures a destination backed by Azure block blobs. With a
// storage key the transport authenticates with a shared key credential,
// otherwise it falls back to the default Azure credential chain.
type AzureOptions struct {
	StorageName     string `yaml:"storage_name"`
	StorageKey      string `yaml:"storage_key"`
	ServiceEndpoint string `yaml:"service_endpoint"`
	Container       string `yaml:"container"`
	Prefix          string `yaml:"prefix"`
}

// blockBlobAPI is the slice of the block blob client the transport needs.
type blockBlobAPI interface {
	StageBlock(ctx context.Context, base64BlockID string, body io.ReadSeekCloser, options *blockblob.StageBlockOptions) (blockblob.StageBlockResponse, error)
	CommitBlockList(ctx context.Context, base64BlockIDs []string, options *blockblob.CommitBlockListOptions) (blockblob.CommitBlockListResponse, error)
	GetBlockList(ctx context.Context, listType blockblob.BlockListType, options *blockblob.GetBlockListOptions) (blockblob.GetBlockListResponse, error)
	URL() string
}

// AzureTransport maps a session onto one block blob: chunk index i is staged
// as a deterministic base64 block ID, and finalize commits the session's
// ordered block list. Staged blocks that never commit are garbage collected
// by the service, so there is no abort.
type AzureTransport struct {
	newBlob       func(sess *session.Session) blockBlobAPI
	container     *container.Client
	ContainerName string
	Prefix        string
}

func NewAzureTransport(ctx context.Context, opts AzureOptions) (*AzureTransport, error) {
	client, err := storeaz.NewBlobClient(opts.StorageName, opts.StorageKey, opts.ServiceEndpoint)
	if err != nil {
		return nil, err
	}

	containerClient := client.ServiceClient().NewContainerClient(opts.Container)
	at := &AzureTransport{
		container:     containerClient,
		ContainerName: opts.Container,
		Prefix:        opts.Prefix,
	}
	at.newBlob = func(sess *session.Session) blockBlobAPI {
		return containerClient.NewBlockBlobClient(at.blobName(sess))
	}
	return at, nil
}

func (at *AzureTransport) blobName(sess *session.Session) string {
	return path.Join(at.Prefix, sess.ID, sess.FileName)
}

// blockID returns the base64 block ID for a chunk index. Azure requires all
// block IDs of a blob to have equal length, hence the fixed-width index.
func blockID(index int64) string {
	return base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("block-%010d", index)))
}

func (at *AzureTransport) CreateSession(ctx context.Context, sess *session.Session) error {
	// Blocks are staged straight against the blob path; the only remote
	// setup is making sure the container is there.
	if at.container != nil {
		if err := storeaz.CreateContainerIfNotExists(ctx, at.container); err != nil {
			return err
		}
	}
	sess.RemoteID = at.newBlob(sess).URL()
	return nil
}

func (at *AzureTransport) UploadChunk(ctx context.Context, sess *session.Session, index int64, r io.Reader, size int64) (string, error) {
	var body io.ReadSeekCloser
	if rs, ok := r.(io.ReadSeeker); ok {
		body = streaming.NopCloser(rs)
	} else {
		b, err := io.ReadAll(r)
		if err != nil {
			return "", err
		}
		body = streaming.NopCloser(bytes.NewReader(b))
	}

	id := blockID(index)
	if _, err := at.newBlob(sess).StageBlock(ctx, id, body, nil); err != nil {
		return "", fmt.Errorf("failed to stage block %d of %s: %w", index, at.blobName(sess), err)
	}
	return id, nil
}

func (at *AzureTransport) FinalizeSession(ctx context.Context, sess *session.Session) (*FinalizeResult, error) {
	blob := at.newBlob(sess)
	_, err := blob.CommitBlockList(ctx, sess.UploadedChunks, &blockblob.CommitBlockListOptions{
		Metadata: storeaz.PointerizeMetadata(sess.Metadata),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to commit block list for %s: %w", at.blobName(sess), err)
	}
	return &FinalizeResult{
		ID:       at.blobName(sess),
		Location: blob.URL(),
	}, nil
}

// ReceivedChunks counts the contiguous run of staged blocks starting at chunk
// zero. Block order in the listing is not guaranteed, so the names are
// matched against the deterministic IDs.
func (at *AzureTransport) ReceivedChunks(ctx context.Context, sess *session.Session) (int64, error) {
	resp, err := at.newBlob(sess).GetBlockList(ctx, blockblob.BlockListTypeUncommitted, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to get block list for %s: %w", at.blobName(sess), err)
	}

	staged := make(map[string]bool, len(resp.UncommittedBlocks))
	for _, b := range resp.UncommittedBlocks {
		if b.Name != nil {
			staged[*b.Name] = true
		}
	}
	var count int64
	for staged[blockID(count)] {
		count++
	}
	return count, nil
}

func (at *AzureTransport) Health(ctx context.Context) (rsp models.ServiceHealthResp) {
	rsp.Service = "Azure destination " + at.ContainerName
	rsp.Status = models.STATUS_UP

	if at.container == nil {
		rsp.Status = models.STATUS_DOWN
		rsp.HealthIssue = "container client not configured"
		return rsp
	}
	if _, err := at.container.GetProperties(ctx, nil); err != nil {
		rsp.Status = models.STATUS_DOWN
		rsp.HealthIssue = err.Error()
	}
	return rsp
}
