package whatsapp

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Dialer)
)

// Register makes a dialer available by name. Protocol implementations call
// it from init, the same way database/sql drivers do.
func Register(name string, d Dialer) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if d == nil {
		panic("whatsapp: Register dialer is nil")
	}
	if _, dup := drivers[name]; dup {
		panic("whatsapp: Register called twice for driver " + name)
	}
	drivers[name] = d
}

// Open looks up a registered dialer.
func Open(name string) (Dialer, error) {
	driversMu.RLock()
	defer driversMu.RUnlock()
	d, ok := drivers[name]
	if !ok {
		return nil, fmt.Errorf("unknown protocol driver %q (registered: %v)", name, driverNames())
	}
	return d, nil
}

// Settings is the process-level setup handed to drivers that need one.
type Settings struct {
	// StorePath locates the driver's own device store, if it keeps one.
	StorePath string
	Logger    *logrus.Entry
}

// Configurer is implemented by drivers that must be prepared before their
// first Dial. Drivers holding resources also implement io.Closer.
type Configurer interface {
	Configure(ctx context.Context, settings Settings) error
}

func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	return driverNames()
}

func driverNames() []string {
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Version is a protocol client version override.
type Version [3]int

var versionPattern = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)$`)

// ParseVersion accepts "MAJOR.MINOR.PATCH". "default" and "" yield nil,
// meaning the client picks its own version.
func ParseVersion(s string) (*Version, error) {
	if s == "" || s == "default" {
		return nil, nil
	}
	m := versionPattern.FindStringSubmatch(s)
	if m == nil {
		return nil, fmt.Errorf("invalid client version %q, expected MAJOR.MINOR.PATCH", s)
	}
	var v Version
	for i := range v {
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return nil, fmt.Errorf("invalid client version %q: %w", s, err)
		}
		v[i] = n
	}
	return &v, nil
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v[0], v[1], v[2])
}
