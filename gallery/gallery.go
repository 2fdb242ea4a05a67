// Package gallery implements the image repository: an Azure Blob Storage
// backed store keeping each image as a binary blob plus a JSON metadata
// sidecar, listed back as signed-URL gallery items.
package gallery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/google/uuid"

	"github.com/smartgallery/smartgallery/internal"
)

const (
	blobPrefix      = "items/"
	metadataSuffix  = ".json"
	metaContentType = "application/json"
)

// ErrUnsupportedMediaType is returned by Upload for content that is not an image.
var ErrUnsupportedMediaType = errors.New("unsupported media type")

// ErrBadMetadata is returned by List when a metadata sidecar cannot be decoded.
var ErrBadMetadata = errors.New("invalid metadata format")

// ConfigError reports a configuration invariant violation detected while
// constructing the repository.
type ConfigError struct {
	msg string
}

func (e *ConfigError) Error() string { return e.msg }

// Metadata is the JSON sidecar stored next to each image blob.
type Metadata struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	UploadedAt  time.Time `json:"uploadedAt"`
	BlobName    string    `json:"blobName"`
	ContentType string    `json:"contentType"`
}

// Item is one gallery entry as served to the viewer: metadata joined with a
// freshly minted signed read URL. Items are derived per listing call and
// never persisted.
type Item struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	ImageURL    string    `json:"imageUrl"`
	UploadedAt  time.Time `json:"uploadedAt"`
}

// Repository owns the blob service connection and exposes the gallery
// operations. Construct it once at startup and share it across requests; all
// methods are safe for concurrent use.
type Repository struct {
	logger log.Logger
	cfg    Config
	client *azblob.Client
	signer *URLSigner
}

// New builds the blob client for the configured authentication mode and
// returns a repository around it. No network call is made here; connectivity
// problems surface from ProvisionContainer or the first operation.
func New(l log.Logger, c Config) (*Repository, error) {
	if c.ContainerName == "" {
		c.ContainerName = DefaultContainerName
	}

	if c.BlobStorageURL == "" {
		c.BlobStorageURL = DefaultBlobStorageURL
	}

	var (
		client      *azblob.Client
		sharedKey   *azblob.SharedKeyCredential
		accountName string
		err         error
	)

	if c.UseManagedIdentity {
		if strings.TrimSpace(c.AccountName) == "" {
			return nil, &ConfigError{msg: "storage account name is required when managed identity is enabled"}
		}

		accountName = c.AccountName

		serviceURL := fmt.Sprintf("https://%s.%s", accountName, c.BlobStorageURL)
		if c.Azurite {
			serviceURL = fmt.Sprintf("http://%s/%s", c.BlobStorageURL, accountName)
		}

		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("create the default credential, %w", err)
		}

		level.Info(l).Log("msg", "using managed identity authentication", "accountName", accountName, "url", serviceURL)

		client, err = azblob.NewClient(serviceURL, cred, nil)
		if err != nil {
			return nil, fmt.Errorf("create the client with managed identity, %w", err)
		}
	} else {
		if strings.TrimSpace(c.ConnectionString) == "" {
			return nil, &ConfigError{msg: "storage connection string is required when managed identity is disabled"}
		}

		client, err = azblob.NewClientFromConnectionString(c.ConnectionString, nil)
		if err != nil {
			return nil, fmt.Errorf("create the client from connection string, %w", err)
		}

		kv := parseConnectionString(c.ConnectionString)
		accountName = kv["AccountName"]

		if key := kv["AccountKey"]; accountName != "" && key != "" {
			sharedKey, err = azblob.NewSharedKeyCredential(accountName, key)
			if err != nil {
				return nil, fmt.Errorf("create the shared key credential, %w", err)
			}
		}

		level.Info(l).Log("msg", "using connection string authentication", "accountName", accountName, "directSigning", sharedKey != nil)
	}

	return &Repository{
		logger: l,
		cfg:    c,
		client: client,
		signer: newURLSigner(client.ServiceClient(), sharedKey, c.ContainerName),
	}, nil
}

// Signer exposes the repository's URL signer.
func (r *Repository) Signer() *URLSigner { return r.signer }

// ProvisionContainer idempotently ensures the gallery container exists.
// Container access defaults to private; no anonymous reads are possible
// without a signed URL.
func (r *Repository) ProvisionContainer(ctx context.Context) error {
	level.Debug(r.logger).Log("msg", "ensuring container exists", "container", r.cfg.ContainerName)

	_, err := r.client.CreateContainer(ctx, r.cfg.ContainerName, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.ErrorCode == "ContainerAlreadyExists" {
			level.Debug(r.logger).Log("msg", "container already exists", "container", r.cfg.ContainerName)
			return nil
		}

		return fmt.Errorf("create the container, %w", err)
	}

	level.Info(r.logger).Log("msg", "container created", "container", r.cfg.ContainerName)

	return nil
}

// IsSupportedContentType reports whether contentType names an uploadable image.
func IsSupportedContentType(contentType string) bool {
	return strings.HasPrefix(contentType, "image/")
}

// Upload stores an image blob at items/<id><ext> and its metadata sidecar at
// items/<id>.json, returning the generated identifier. The binary write
// happens before the sidecar write; a failure in between leaves an orphan
// blob that listing never sees.
func (r *Repository) Upload(ctx context.Context, content io.Reader, originalFileName, contentType, description string) (string, error) {
	if !IsSupportedContentType(contentType) {
		return "", fmt.Errorf("content type %q, %w", contentType, ErrUnsupportedMediaType)
	}

	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	blobName := blobPrefix + id + safeExtension(originalFileName, contentType)
	metaName := blobPrefix + id + metadataSuffix

	_, err := r.client.UploadStream(ctx, r.cfg.ContainerName, blobName, content, &azblob.UploadStreamOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	})
	if err != nil {
		return "", fmt.Errorf("put the image object, %w", err)
	}

	meta := Metadata{
		ID:          id,
		Description: description,
		UploadedAt:  time.Now().UTC(),
		BlobName:    blobName,
		ContentType: contentType,
	}

	encoded, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encode image metadata, %w", err)
	}

	sidecarType := metaContentType

	_, err = r.client.UploadStream(ctx, r.cfg.ContainerName, metaName, bytes.NewReader(encoded), &azblob.UploadStreamOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &sidecarType},
	})
	if err != nil {
		return "", fmt.Errorf("put the metadata object, %w", err)
	}

	level.Info(r.logger).Log("msg", "uploaded image", "id", id, "blob", blobName, "contentType", contentType)

	return id, nil
}

// List reconstructs the gallery from the metadata sidecars under items/ and
// mints a signed read URL for every image. One unparsable sidecar fails the
// whole call. Results are sorted newest first. The listing is fully
// recomputed per call; nothing is cached.
func (r *Repository) List(ctx context.Context) ([]Item, error) {
	prefix := blobPrefix
	pager := r.client.NewListBlobsFlatPager(r.cfg.ContainerName, &azblob.ListBlobsFlatOptions{
		Prefix: &prefix,
	})

	var metaNames []string

	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list blobs, %w", err)
		}

		for _, blobItem := range resp.Segment.BlobItems {
			if blobItem.Name == nil {
				continue
			}

			if strings.HasSuffix(strings.ToLower(*blobItem.Name), metadataSuffix) {
				metaNames = append(metaNames, *blobItem.Name)
			}
		}
	}

	if len(metaNames) == 0 {
		return nil, nil
	}

	metas := make([]Metadata, 0, len(metaNames))

	for _, name := range metaNames {
		body, err := r.download(ctx, name)
		if err != nil {
			return nil, err
		}

		meta, err := decodeMetadata(body)
		if err != nil {
			return nil, fmt.Errorf("metadata object %q, %w", name, err)
		}

		metas = append(metas, meta)
	}

	// One signing session per listing: on the delegated path this fetches a
	// single user delegation key shared by every item in the call.
	session, err := r.signer.Session(ctx, DefaultURLLifetime)
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(metas))

	for _, meta := range metas {
		u, err := session.ReadURL(meta.BlobName)
		if err != nil {
			return nil, err
		}

		items = append(items, Item{
			ID:          meta.ID,
			Description: meta.Description,
			ImageURL:    u,
			UploadedAt:  meta.UploadedAt,
		})
	}

	sortItems(items)

	level.Debug(r.logger).Log("msg", "listed gallery items", "count", len(items))

	return items, nil
}

func (r *Repository) download(ctx context.Context, name string) ([]byte, error) {
	resp, err := r.client.DownloadStream(ctx, r.cfg.ContainerName, name, nil)
	if err != nil {
		return nil, fmt.Errorf("get the object %q, %w", name, err)
	}

	defer internal.CloseWithErrLogf(r.logger, resp.Body, "response body, close defer")

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read the object %q, %w", name, err)
	}

	return body, nil
}

func decodeMetadata(body []byte) (Metadata, error) {
	var meta Metadata

	if err := json.Unmarshal(body, &meta); err != nil {
		return Metadata{}, fmt.Errorf("%w, %v", ErrBadMetadata, err)
	}

	if meta.ID == "" || meta.BlobName == "" {
		return Metadata{}, fmt.Errorf("%w, missing id or blob name", ErrBadMetadata)
	}

	return meta, nil
}

// sortItems orders items descending by upload time, newest first. The sort is
// stable so items sharing a timestamp keep their listing order.
func sortItems(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].UploadedAt.After(items[j].UploadedAt)
	})
}

// safeExtension derives the blob file extension from the original filename,
// falling back to a fixed content-type table, normalized to lowercase.
func safeExtension(filename, contentType string) string {
	ext := path.Ext(filename)
	if ext == "" {
		switch contentType {
		case "image/jpeg":
			ext = ".jpg"
		case "image/png":
			ext = ".png"
		case "image/gif":
			ext = ".gif"
		case "image/webp":
			ext = ".webp"
		default:
			ext = ".bin"
		}
	}

	return strings.ToLower(ext)
}
