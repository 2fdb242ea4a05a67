package gallery

import (
	"context"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/service"
)

// DefaultURLLifetime is how long issued read URLs stay valid.
const DefaultURLLifetime = 7 * 24 * time.Hour

// delegationSkew backdates delegated signatures to tolerate clock drift
// between this host and the storage service.
const delegationSkew = 5 * time.Minute

// URLSigner mints time-limited, read-only signed URLs for blobs in one
// container. Two strategies exist: direct signing with the account's shared
// key, and delegated signing with a short-lived user delegation key fetched
// from the service when only an identity credential is available. The
// strategy is fixed at construction by which credentials exist; there is no
// fallback between them at signing time.
type URLSigner struct {
	svc       *service.Client
	sharedKey *azblob.SharedKeyCredential
	container string
}

func newURLSigner(svc *service.Client, sharedKey *azblob.SharedKeyCredential, container string) *URLSigner {
	return &URLSigner{svc: svc, sharedKey: sharedKey, container: container}
}

// CanSignDirectly reports whether a shared key credential is available, i.e.
// whether URLs can be signed without a service round trip.
func (s *URLSigner) CanSignDirectly() bool {
	return s.sharedKey != nil
}

// SignSession signs read URLs against one expiry. On the delegated path the
// user delegation key is fetched once when the session is opened and reused
// for every URL signed through it; it is not cached beyond the session.
type SignSession struct {
	signer     *URLSigner
	start      time.Time
	expiry     time.Time
	delegation *service.UserDelegationCredential
}

// Session opens a signing session whose URLs expire at now + lifetime. For
// delegated signing this performs the delegation key round trip; direct
// signing needs no network at all.
func (s *URLSigner) Session(ctx context.Context, lifetime time.Duration) (*SignSession, error) {
	now := time.Now().UTC()
	session := &SignSession{
		signer: s,
		start:  now.Add(-delegationSkew),
		expiry: now.Add(lifetime),
	}

	if s.sharedKey != nil {
		return session, nil
	}

	info := service.KeyInfo{
		Start:  to.Ptr(session.start.Format(sas.TimeFormat)),
		Expiry: to.Ptr(session.expiry.Format(sas.TimeFormat)),
	}

	delegation, err := s.svc.GetUserDelegationCredential(ctx, info, nil)
	if err != nil {
		return nil, fmt.Errorf("get the user delegation key, %w", err)
	}

	session.delegation = delegation

	return session, nil
}

// ReadURL returns a fully qualified URL for blobName carrying a read-only,
// blob-scoped signature valid until the session expiry. The expiry is
// embedded in the signature and enforced by the storage service.
func (ss *SignSession) ReadURL(blobName string) (string, error) {
	values := sas.BlobSignatureValues{
		ExpiryTime:    ss.expiry,
		Permissions:   to.Ptr(sas.BlobPermissions{Read: true}).String(),
		ContainerName: ss.signer.container,
		BlobName:      blobName,
	}

	var (
		params sas.QueryParameters
		err    error
	)

	if ss.delegation != nil {
		values.StartTime = ss.start
		params, err = values.SignWithUserDelegation(ss.delegation)
	} else {
		params, err = values.SignWithSharedKey(ss.signer.sharedKey)
	}

	if err != nil {
		return "", fmt.Errorf("sign the read url, %w", err)
	}

	blobURL := ss.signer.svc.NewContainerClient(ss.signer.container).NewBlobClient(blobName).URL()

	return blobURL + "?" + params.Encode(), nil
}

// SignedReadURL issues one read URL valid for the given lifetime. Listing
// should prefer Session to share the delegation key across items.
func (s *URLSigner) SignedReadURL(ctx context.Context, blobName string, lifetime time.Duration) (string, error) {
	session, err := s.Session(ctx, lifetime)
	if err != nil {
		return "", err
	}

	return session.ReadURL(blobName)
}
