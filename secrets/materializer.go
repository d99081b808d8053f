package secrets

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/moby/sys/atomicwriter"

	"interlude/types"
)

// MaskToken replaces credential values in every log line, dry-run payload
// and diagnostic. Fixed width so output length reveals nothing.
const MaskToken = "********"

// Materializer turns validated credentials into the restricted-permission
// env file consumed by external tooling.
type Materializer struct {
	path string
}

// NewMaterializer creates a materializer writing to path.
func NewMaterializer(path string) *Materializer {
	return &Materializer{path: path}
}

// Path returns the credential file location.
func (m *Materializer) Path() string {
	return m.path
}

// Validate checks credentials against the profile's allow-list. Unknown
// field ids are rejected and required fields must be present and non-empty.
// Never logs or returns a credential value.
func Validate(profile *types.Profile, credentials map[string]string) error {
	for id := range credentials {
		if _, ok := profile.Field(id); !ok {
			return types.NewError(types.KindUnknownField, "field %q is not declared by profile %s", id, profile.ID)
		}
	}

	for _, field := range profile.Inputs {
		if field.Required && strings.TrimSpace(credentials[field.ID]) == "" {
			return types.NewError(types.KindMissingRequiredField, "field %q is required", field.ID)
		}
	}

	return nil
}

// Materialize validates the supplied credentials and writes the allow-listed
// ENV_VAR=value pairs to the credential file, owner read/write only. The
// write is atomic so a crash never leaves a partial file readable by the
// external tooling. Re-materializing overwrites the prior file.
func (m *Materializer) Materialize(profile *types.Profile, credentials map[string]string) error {
	if err := Validate(profile, credentials); err != nil {
		return err
	}

	var b strings.Builder
	for _, field := range profile.Inputs {
		value, ok := credentials[field.ID]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "%s=%s\n", field.EnvVar, value)
	}

	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("failed to create credential directory: %w", err)
	}

	if err := atomicwriter.WriteFile(m.path, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("failed to write credential file: %w", err)
	}

	log.Printf("Secrets: materialized %d field(s) for profile %s", len(credentials), profile.ID)
	return nil
}

// Remove deletes the credential file. Missing files are not an error, so
// Remove is safe to call from best-effort cleanup paths.
func (m *Materializer) Remove() error {
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove credential file: %w", err)
	}
	return nil
}

// MaskedEnv returns the env-var view of the credentials with every value
// replaced by the mask token. This is the only credential representation
// allowed in dry-run payloads and logs.
func MaskedEnv(profile *types.Profile, credentials map[string]string) map[string]string {
	masked := make(map[string]string, len(credentials))
	for _, field := range profile.Inputs {
		if _, ok := credentials[field.ID]; ok {
			masked[field.EnvVar] = MaskToken
		}
	}
	return masked
}
