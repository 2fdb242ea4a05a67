package gallery

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known Azurite development storage key, public in the emulator docs.
const azuriteAccountKey = "Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw=="

const azuriteConnectionString = "DefaultEndpointsProtocol=http;AccountName=devstoreaccount1;AccountKey=" + azuriteAccountKey + ";BlobEndpoint=http://127.0.0.1:10000/devstoreaccount1"

func TestSafeExtension(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name        string
		filename    string
		contentType string
		want        string
	}{
		{name: "FromFilename", filename: "photo.png", contentType: "image/jpeg", want: ".png"},
		{name: "UppercaseFilenameExtension", filename: "photo.JPG", contentType: "image/jpeg", want: ".jpg"},
		{name: "NoExtensionJpeg", filename: "photo", contentType: "image/jpeg", want: ".jpg"},
		{name: "NoExtensionPng", filename: "photo", contentType: "image/png", want: ".png"},
		{name: "NoExtensionGif", filename: "photo", contentType: "image/gif", want: ".gif"},
		{name: "NoExtensionWebp", filename: "photo", contentType: "image/webp", want: ".webp"},
		{name: "NoExtensionUnknownType", filename: "photo", contentType: "image/x-exotic", want: ".bin"},
		{name: "EmptyFilename", filename: "", contentType: "image/png", want: ".png"},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.want, safeExtension(tc.filename, tc.contentType))
		})
	}
}

func TestIsSupportedContentType(t *testing.T) {
	t.Parallel()

	assert.True(t, IsSupportedContentType("image/png"))
	assert.True(t, IsSupportedContentType("image/jpeg"))
	assert.False(t, IsSupportedContentType("text/plain"))
	assert.False(t, IsSupportedContentType("application/json"))
	assert.False(t, IsSupportedContentType(""))
}

func TestDecodeMetadata(t *testing.T) {
	t.Parallel()

	body := []byte(`{"id":"abc123","description":"sunset","uploadedAt":"2026-08-30T12:00:00Z","blobName":"items/abc123.png","contentType":"image/png"}`)

	meta, err := decodeMetadata(body)
	require.NoError(t, err)
	assert.Equal(t, "abc123", meta.ID)
	assert.Equal(t, "sunset", meta.Description)
	assert.Equal(t, "items/abc123.png", meta.BlobName)
	assert.Equal(t, "image/png", meta.ContentType)
	assert.Equal(t, time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC), meta.UploadedAt)
}

func TestDecodeMetadataRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := decodeMetadata([]byte("not json at all"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadMetadata)
}

func TestDecodeMetadataRejectsIncompleteRecord(t *testing.T) {
	t.Parallel()

	_, err := decodeMetadata([]byte(`{"description":"no id or blob name"}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadMetadata)
}

func TestSortItemsNewestFirst(t *testing.T) {
	t.Parallel()

	t1 := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	t3 := t2.Add(time.Hour)

	items := []Item{
		{ID: "first", UploadedAt: t1},
		{ID: "third", UploadedAt: t3},
		{ID: "second", UploadedAt: t2},
	}

	sortItems(items)

	require.Len(t, items, 3)
	assert.Equal(t, "third", items[0].ID)
	assert.Equal(t, "second", items[1].ID)
	assert.Equal(t, "first", items[2].ID)
}

func TestSortItemsStableForEqualTimestamps(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	items := []Item{
		{ID: "a", UploadedAt: at},
		{ID: "b", UploadedAt: at},
		{ID: "c", UploadedAt: at},
	}

	sortItems(items)

	assert.Equal(t, []Item{
		{ID: "a", UploadedAt: at},
		{ID: "b", UploadedAt: at},
		{ID: "c", UploadedAt: at},
	}, items)
}

func TestNewRequiresAccountNameForManagedIdentity(t *testing.T) {
	t.Parallel()

	_, err := New(log.NewNopLogger(), Config{UseManagedIdentity: true, ContainerName: "gallery"})
	require.Error(t, err)

	var configErr *ConfigError
	assert.ErrorAs(t, err, &configErr)
}

func TestNewRequiresConnectionString(t *testing.T) {
	t.Parallel()

	_, err := New(log.NewNopLogger(), Config{ContainerName: "gallery"})
	require.Error(t, err)

	var configErr *ConfigError
	assert.ErrorAs(t, err, &configErr)
}

func TestNewDetectsDirectSigningCapability(t *testing.T) {
	t.Parallel()

	repo, err := New(log.NewNopLogger(), Config{
		ConnectionString: azuriteConnectionString,
		ContainerName:    "gallery",
	})
	require.NoError(t, err)
	assert.True(t, repo.Signer().CanSignDirectly())
}

func TestUploadRejectsNonImageWithoutWriting(t *testing.T) {
	t.Parallel()

	// The endpoint is never dialed: the content type gate fires first.
	repo, err := New(log.NewNopLogger(), Config{
		ConnectionString: azuriteConnectionString,
		ContainerName:    "gallery",
	})
	require.NoError(t, err)

	_, err = repo.Upload(context.Background(), strings.NewReader("some bytes"), "notes.txt", "text/plain", "notes")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedMediaType)
}
