package storeaz

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
) // .import

var errStorageNameEmpty = errors.New("error storage name from destination config is empty")

// NewBlobClient returns an azure blob service client for a destination. A
// storage key selects shared key auth; without one the default Azure
// credential chain is used.
func NewBlobClient(storageName, storageKey, serviceEndpoint string) (*azblob.Client, error) {

	// check guard the account is addressable
	if len(strings.TrimSpace(storageName)) == 0 && len(strings.TrimSpace(serviceEndpoint)) == 0 {
		return nil, errStorageNameEmpty
	} // .if

	endpoint := serviceEndpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net/", storageName)
	} // .if

	if storageKey != "" {
		credential, err := azblob.NewSharedKeyCredential(storageName, storageKey)
		if err != nil {
			return nil, err
		} // .if
		return azblob.NewClientWithSharedKeyCredential(endpoint, credential, nil)
	} // .if

	credential, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, err
	} // .if
	return azblob.NewClient(endpoint, credential, nil)
} // .NewBlobClient
