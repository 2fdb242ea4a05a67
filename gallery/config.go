package gallery

import "strings"

const (
	// DefaultContainerName is the container used when none is configured.
	DefaultContainerName = "gallery"

	// DefaultBlobStorageURL is the Azure Blob Storage endpoint suffix.
	DefaultBlobStorageURL = "blob.core.windows.net"
)

// Config is a structure to store gallery storage configuration.
type Config struct {
	// UseManagedIdentity switches authentication from a connection string to
	// the ambient Azure identity (workload identity, VM identity, az login).
	UseManagedIdentity bool

	// AccountName is the storage account name, required with managed identity.
	AccountName string

	// ConnectionString is the storage connection string, required without
	// managed identity.
	ConnectionString string

	// ContainerName is the container holding all gallery objects.
	ContainerName string

	// BlobStorageURL overrides the blob endpoint suffix, e.g. for sovereign
	// clouds or an Azurite emulator host.
	BlobStorageURL string

	// Azurite flips the service URL layout to the emulator's
	// http://host/account form.
	Azurite bool
}

// Validate checks the configuration invariants before any client is built.
// It returns one human-readable message per violation; an empty slice means
// the configuration is valid. It performs no I/O.
func (c Config) Validate() []string {
	var errs []string

	if c.UseManagedIdentity {
		if strings.TrimSpace(c.AccountName) == "" {
			errs = append(errs, "storage account name is required when managed identity is enabled")
		}
	} else {
		if strings.TrimSpace(c.ConnectionString) == "" {
			errs = append(errs, "storage connection string is required when managed identity is disabled")
		} else if !validConnectionString(c.ConnectionString) {
			errs = append(errs,
				"storage connection string has an invalid format, expected 'name=value;name=value'",
				"example: 'DefaultEndpointsProtocol=https;AccountName=myaccount;AccountKey=...'")
		}
	}

	if strings.TrimSpace(c.ContainerName) == "" {
		errs = append(errs, "storage container name is required")
	}

	return errs
}

// ResolvedAccountName returns the storage account name, either as configured
// or as parsed out of the connection string.
func (c Config) ResolvedAccountName() string {
	if c.UseManagedIdentity {
		return c.AccountName
	}

	return parseConnectionString(c.ConnectionString)["AccountName"]
}

// validConnectionString reports whether s looks like a semicolon-separated
// list of key=value pairs with at least one non-empty segment.
func validConnectionString(s string) bool {
	segments := 0

	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		key, _, found := strings.Cut(part, "=")
		if !found || strings.TrimSpace(key) == "" {
			return false
		}

		segments++
	}

	return segments > 0
}

// parseConnectionString splits a connection string into its key=value pairs.
// Malformed segments are dropped rather than rejected; format validation is
// Validate's job.
func parseConnectionString(s string) map[string]string {
	kv := make(map[string]string)

	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		key, value, found := strings.Cut(part, "=")
		if !found || strings.TrimSpace(key) == "" {
			continue
		}

		kv[strings.TrimSpace(key)] = value
	}

	return kv
}
