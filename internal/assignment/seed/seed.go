// Package seed loads units and staff profiles from a YAML roster.
//
// Units and staff are referenced by key inside the file. An entry without an
// explicit id gets a stable UUID derived from its key, so the same roster
// always produces the same identifiers and tokens minted for them stay valid
// across restarts.
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"casework/internal/assignment/models"
	id "casework/pkg/domain"
	strutil "casework/pkg/platform/strings"
)

var namespace = uuid.MustParse("6f1c1f0e-58c4-4b0a-9a55-0d5d2b3c7e11")

// Store is the subset of the assignment store the loader writes to.
type Store interface {
	SaveUnit(ctx context.Context, unit *models.Unit) error
	SaveStaff(ctx context.Context, staff *models.StaffProfile) error
}

type File struct {
	Units []Unit  `yaml:"units"`
	Staff []Staff `yaml:"staff"`
}

type Unit struct {
	Key      string `yaml:"key"`
	ID       string `yaml:"id,omitempty"`
	Name     string `yaml:"name"`
	WIPLimit int    `yaml:"wip_limit"`
}

type Staff struct {
	Key        string   `yaml:"key"`
	ID         string   `yaml:"id,omitempty"`
	Unit       string   `yaml:"unit"`
	Role       string   `yaml:"role"`
	WIPLimit   int      `yaml:"wip_limit"`
	Skills     []string `yaml:"skills,omitempty"`
	EscalateTo string   `yaml:"escalate_to,omitempty"`
}

// Roster is a resolved seed file ready to be saved.
type Roster struct {
	Units []*models.Unit
	Staff []*models.StaffProfile
	// StaffKeys maps each staff key to its user id.
	StaffKeys map[string]id.UserID
}

// LoadFile reads and resolves a roster from path.
func LoadFile(path string) (*Roster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load decodes a roster. Unknown fields are rejected.
func Load(r io.Reader) (*Roster, error) {
	var file File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("seed file is empty")
		}
		return nil, fmt.Errorf("decode seed file: %w", err)
	}
	return file.Resolve()
}

// Resolve checks references and builds the domain entities.
func (f *File) Resolve() (*Roster, error) {
	roster := &Roster{StaffKeys: make(map[string]id.UserID, len(f.Staff))}
	units := make(map[string]id.UnitID, len(f.Units))

	for i, u := range f.Units {
		if u.Key == "" {
			return nil, fmt.Errorf("units[%d]: key is required", i)
		}
		if _, dup := units[u.Key]; dup {
			return nil, fmt.Errorf("units[%d]: duplicate key %q", i, u.Key)
		}
		if u.WIPLimit < 0 {
			return nil, fmt.Errorf("unit %q: wip_limit must not be negative", u.Key)
		}
		raw, err := resolveID(u.ID, "unit:"+u.Key)
		if err != nil {
			return nil, fmt.Errorf("unit %q: %w", u.Key, err)
		}
		unitID := id.UnitID(raw)
		units[u.Key] = unitID
		name := u.Name
		if name == "" {
			name = u.Key
		}
		roster.Units = append(roster.Units, &models.Unit{ID: unitID, Name: name, WIPLimit: u.WIPLimit})
	}

	for i, s := range f.Staff {
		if s.Key == "" {
			return nil, fmt.Errorf("staff[%d]: key is required", i)
		}
		if _, dup := roster.StaffKeys[s.Key]; dup {
			return nil, fmt.Errorf("staff[%d]: duplicate key %q", i, s.Key)
		}
		raw, err := resolveID(s.ID, "staff:"+s.Key)
		if err != nil {
			return nil, fmt.Errorf("staff %q: %w", s.Key, err)
		}
		roster.StaffKeys[s.Key] = id.UserID(raw)
	}

	for _, s := range f.Staff {
		unitID, ok := units[s.Unit]
		if !ok {
			return nil, fmt.Errorf("staff %q: unknown unit %q", s.Key, s.Unit)
		}
		role := id.Role(s.Role)
		if s.Role == "" {
			role = id.RoleStaff
		}
		if !role.IsValid() {
			return nil, fmt.Errorf("staff %q: invalid role %q", s.Key, s.Role)
		}
		if s.WIPLimit < 0 {
			return nil, fmt.Errorf("staff %q: wip_limit must not be negative", s.Key)
		}
		profile := &models.StaffProfile{
			UserID:       roster.StaffKeys[s.Key],
			UnitID:       unitID,
			Skills:       strutil.NormalizeSet(s.Skills),
			WIPLimit:     s.WIPLimit,
			Availability: models.AvailabilityAvailable,
			Role:         role,
		}
		if s.EscalateTo != "" {
			recipient, ok := roster.StaffKeys[s.EscalateTo]
			if !ok {
				return nil, fmt.Errorf("staff %q: unknown escalate_to %q", s.Key, s.EscalateTo)
			}
			if s.EscalateTo == s.Key {
				return nil, fmt.Errorf("staff %q: cannot escalate to self", s.Key)
			}
			profile.EscalationChainID = &recipient
		}
		roster.Staff = append(roster.Staff, profile)
	}
	return roster, nil
}

// Apply saves every unit, then every staff profile. Both saves are upserts.
func (r *Roster) Apply(ctx context.Context, store Store) error {
	for _, u := range r.Units {
		if err := store.SaveUnit(ctx, u); err != nil {
			return fmt.Errorf("save unit %s: %w", u.Name, err)
		}
	}
	for _, s := range r.Staff {
		if err := store.SaveStaff(ctx, s); err != nil {
			return fmt.Errorf("save staff %s: %w", s.UserID, err)
		}
	}
	return nil
}

func resolveID(explicit, key string) (uuid.UUID, error) {
	if explicit == "" {
		return uuid.NewSHA1(namespace, []byte(key)), nil
	}
	parsed, err := uuid.Parse(explicit)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid id %q", explicit)
	}
	return parsed, nil
}
