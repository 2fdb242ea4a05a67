package startup

import (
	"errors"
	"fmt"
	"strings"

	"github.com/smartgallery/smartgallery/gallery"
)

// Diagnostic titles shown on the error page.
const (
	TitleConfiguration = "Configuration Error"
	TitleRuntime       = "Runtime Error"
)

// Diagnostic is the fixed payload served for every request in diagnostic mode.
type Diagnostic struct {
	Title string
	Lines []string
}

// classifyProvisionFailure turns a repository construction or provisioning
// failure into human-readable diagnostic lines. The rules are an ordered
// table of case-insensitive substring matches over the error message chain,
// first match wins. They are best-effort heuristics: the storage SDK's error
// wording is not a stable contract and these matches can go stale when it
// changes.
func classifyProvisionFailure(cfg gallery.Config, err error) []string {
	var configErr *gallery.ConfigError
	if errors.As(err, &configErr) {
		return []string{configErr.Error()}
	}

	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "authentication"):
		if cfg.UseManagedIdentity {
			return []string{
				fmt.Sprintf("managed identity authentication failed for storage account %q", cfg.AccountName),
				"verify an identity is assigned to this workload and allowed to reach the account",
			}
		}

		return []string{
			"authentication with the configured connection string failed",
			"verify the account key in the connection string is current",
		}

	case strings.Contains(msg, "authorization") || strings.Contains(msg, "403"):
		return []string{
			"access to the storage account was denied",
			"the identity needs the Storage Blob Data Contributor role on the account",
		}

	case strings.Contains(msg, "not found") || strings.Contains(msg, "404"):
		return []string{
			fmt.Sprintf("storage account %q was not found, verify the account name", cfg.ResolvedAccountName()),
		}

	default:
		lines := []string{"provisioning the image container failed, " + err.Error()}
		if inner := errors.Unwrap(err); inner != nil {
			lines = append(lines, "detail, "+inner.Error())
		}

		return lines
	}
}
