package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"interlude/types"
)

// ProfileStore holds the loaded deployment profiles. Profiles are immutable
// once loaded; a reload swaps the whole set.
type ProfileStore struct {
	mu       sync.RWMutex
	dir      string
	profiles map[string]types.Profile
}

// NewProfileStore loads every profile from dir.
func NewProfileStore(dir string) (*ProfileStore, error) {
	s := &ProfileStore{dir: dir, profiles: make(map[string]types.Profile)}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the profiles directory and swaps in the new set. A
// directory containing an invalid profile fails wholesale so a bad edit
// never half-applies.
func (s *ProfileStore) Reload() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read profiles dir: %w", err)
	}

	loaded := make(map[string]types.Profile)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}

		profile, err := loadProfileFile(filepath.Join(s.dir, name))
		if err != nil {
			return fmt.Errorf("profile %s: %w", name, err)
		}
		if _, dup := loaded[profile.ID]; dup {
			return fmt.Errorf("profile %s: duplicate profile id %q", name, profile.ID)
		}
		loaded[profile.ID] = profile
	}

	s.mu.Lock()
	s.profiles = loaded
	s.mu.Unlock()

	log.Printf("ProfileStore: loaded %d profile(s) from %s", len(loaded), s.dir)
	return nil
}

// Get returns a copy of the profile with the given id.
func (s *ProfileStore) Get(id string) (types.Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	profile, ok := s.profiles[id]
	return profile, ok
}

// All returns the loaded profiles ordered by id.
func (s *ProfileStore) All() []types.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	profiles := make([]types.Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		profiles = append(profiles, p)
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].ID < profiles[j].ID })
	return profiles
}

func loadProfileFile(path string) (types.Profile, error) {
	var profile types.Profile

	bytes, err := os.ReadFile(path)
	if err != nil {
		return profile, fmt.Errorf("failed to read profile: %w", err)
	}

	if err := yaml.Unmarshal(bytes, &profile); err != nil {
		return profile, fmt.Errorf("failed to parse profile: %w", err)
	}

	if err := ValidateProfile(&profile); err != nil {
		return profile, err
	}

	return profile, nil
}

// knownPlaceholders are the only substitution variables a profile may use.
var knownPlaceholders = map[string]bool{
	"VERSION":     true,
	"ENV_FILE":    true,
	"HOST_IP":     true,
	"BASE_DOMAIN": true,
}

// ValidateProfile checks a profile's structural invariants at load time.
func ValidateProfile(p *types.Profile) error {
	if p.ID == "" {
		return fmt.Errorf("profile id is required")
	}
	if p.Platform != types.PlatformCompose && p.Platform != types.PlatformKubernetes {
		return fmt.Errorf("unknown platform %q", p.Platform)
	}
	if len(p.Command) == 0 {
		return fmt.Errorf("profile %s: primary command is required", p.ID)
	}

	for _, seq := range [][][]string{p.PreCommands, {p.Command}, p.PostCommands, p.UninstallCommands} {
		for _, argv := range seq {
			if len(argv) == 0 {
				return fmt.Errorf("profile %s: empty command vector", p.ID)
			}
			for _, arg := range argv {
				if err := checkPlaceholders(arg); err != nil {
					return fmt.Errorf("profile %s: %w", p.ID, err)
				}
			}
		}
	}

	seenFields := make(map[string]bool)
	for _, field := range p.Inputs {
		if field.ID == "" || field.EnvVar == "" {
			return fmt.Errorf("profile %s: input field needs both id and env_var", p.ID)
		}
		if seenFields[field.ID] {
			return fmt.Errorf("profile %s: duplicate input field id %q", p.ID, field.ID)
		}
		seenFields[field.ID] = true
	}

	seenServices := make(map[string]bool)
	for _, svc := range p.Services {
		if svc.Name == "" {
			return fmt.Errorf("profile %s: service link needs a name", p.ID)
		}
		if seenServices[svc.Name] {
			return fmt.Errorf("profile %s: duplicate service link %q", p.ID, svc.Name)
		}
		seenServices[svc.Name] = true
		if err := checkPlaceholders(svc.URLTemplate); err != nil {
			return fmt.Errorf("profile %s: service %s: %w", p.ID, svc.Name, err)
		}
	}

	return nil
}

// checkPlaceholders rejects ${NAME} references outside the declared set.
func checkPlaceholders(s string) error {
	rest := s
	for {
		start := strings.Index(rest, "${")
		if start < 0 {
			return nil
		}
		end := strings.Index(rest[start:], "}")
		if end < 0 {
			return fmt.Errorf("unterminated placeholder in %q", s)
		}
		name := rest[start+2 : start+end]
		if !knownPlaceholders[name] {
			return fmt.Errorf("unknown placeholder ${%s}", name)
		}
		rest = rest[start+end+1:]
	}
}
