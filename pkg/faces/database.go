package faces

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/patrickmn/go-cache"

	"github.com/dotsetgreg/dotcompanion/pkg/logger"
)

var ErrInvalidName = errors.New("identity name must be non-empty and alphanumeric")

const (
	identitiesKey = "identities"
	fileExt       = ".json"
)

// Embedding is a face descriptor produced by the vision sidecar.
type Embedding []float64

// Distance returns the Euclidean distance between a and b, or +Inf when the
// embeddings are not comparable.
func Distance(a, b Embedding) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// ValidateName accepts names made only of letters and digits.
func ValidateName(name string) error {
	if name == "" {
		return ErrInvalidName
	}
	for _, r := range name {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return ErrInvalidName
		}
	}
	return nil
}

type Identity struct {
	Name       string      `json:"name"`
	Embeddings []Embedding `json:"embeddings"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// Database is a directory of identities, one JSON file per name. Loaded
// identities are cached until the next write or cache expiry.
type Database struct {
	dir       string
	threshold float64
	unknown   string
	cache     *cache.Cache
	mu        sync.Mutex
}

func NewDatabase(dir string, threshold float64, unknown string, ttl time.Duration) (*Database, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create faces dir: %w", err)
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Database{
		dir:       dir,
		threshold: threshold,
		unknown:   unknown,
		cache:     cache.New(ttl, 2*ttl),
	}, nil
}

// Identify returns the name of the closest stored embedding when it is
// nearer than the match threshold, and the unknown label otherwise.
func (d *Database) Identify(e Embedding) string {
	if len(e) == 0 {
		return d.unknown
	}
	identities, err := d.identities()
	if err != nil {
		logger.WarnCF("faces", "Identity lookup failed", map[string]interface{}{
			"error": err.Error(),
		})
		return d.unknown
	}

	best := ""
	minDist := math.Inf(1)
	for _, id := range identities {
		for _, saved := range id.Embeddings {
			if dist := Distance(e, saved); dist < minDist {
				minDist = dist
				best = id.Name
			}
		}
	}
	if best == "" || minDist >= d.threshold {
		return d.unknown
	}
	return best
}

// Save replaces the embeddings stored for name and returns a message meant to
// be spoken back to the user.
func (d *Database) Save(name string, samples []Embedding) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	valid := make([]Embedding, 0, len(samples))
	for _, s := range samples {
		if len(s) > 0 {
			valid = append(valid, s)
		}
	}
	if len(valid) == 0 {
		return "No face embedding could be computed from the captured images.", nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	data, err := json.MarshalIndent(Identity{
		Name:       name,
		Embeddings: valid,
		UpdatedAt:  time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(d.path(name), data, 0600); err != nil {
		return "", fmt.Errorf("write identity %s: %w", name, err)
	}
	d.cache.Delete(identitiesKey)

	logger.InfoCF("faces", "Identity saved", map[string]interface{}{
		"name":    name,
		"samples": len(valid),
	})
	return fmt.Sprintf("%d face embeddings saved for %s.", len(valid), name), nil
}

func (d *Database) List() ([]string, error) {
	identities, err := d.identities()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(identities))
	for _, id := range identities {
		names = append(names, id.Name)
	}
	return names, nil
}

func (d *Database) Remove(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := os.Remove(d.path(name)); err != nil {
		return fmt.Errorf("remove identity %s: %w", name, err)
	}
	d.cache.Delete(identitiesKey)
	return nil
}

func (d *Database) identities() ([]Identity, error) {
	if x, found := d.cache.Get(identitiesKey); found {
		return x.([]Identity), nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	entries, err := os.ReadDir(d.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read faces dir: %w", err)
	}

	var out []Identity
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileExt) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(d.dir, entry.Name()))
		if err != nil {
			logger.WarnCF("faces", "Skipping unreadable identity file", map[string]interface{}{
				"file":  entry.Name(),
				"error": err.Error(),
			})
			continue
		}
		var id Identity
		if err := json.Unmarshal(data, &id); err != nil {
			logger.WarnCF("faces", "Skipping malformed identity file", map[string]interface{}{
				"file":  entry.Name(),
				"error": err.Error(),
			})
			continue
		}
		if id.Name == "" {
			id.Name = strings.TrimSuffix(entry.Name(), fileExt)
		}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	d.cache.Set(identitiesKey, out, cache.DefaultExpiration)
	return out, nil
}

func (d *Database) path(name string) string {
	return filepath.Join(d.dir, name+fileExt)
}
