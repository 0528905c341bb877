package confstore

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/buntdb"
)

// Snapshot mirrors the propagated-ban table to an on-disk BuntDB so a
// restarting daemon can reload network-wide bans before its first burst
// completes, rather than running unprotected until the next K-line
// broadcast reaches it.
type Snapshot struct {
	db *buntdb.DB
}

// OpenSnapshot opens (creating if absent) the BuntDB file at path.
func OpenSnapshot(path string) (*Snapshot, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("confstore: open snapshot %s: %w", path, err)
	}
	return &Snapshot{db: db}, nil
}

func (s *Snapshot) Close() error { return s.db.Close() }

func propKeyString(kind Kind, user, host string) string {
	return fmt.Sprintf("ban:%d:%s:%s", kind, user, host)
}

// Save persists every currently-propagated ban in store.
func (s *Snapshot) Save(store *Store) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		for key, item := range store.propagated {
			val := strings.Join([]string{
				strconv.Itoa(int(item.Kind)),
				item.UserPattern,
				item.HostPattern,
				item.Passwd,
				item.Oper,
				strconv.FormatInt(item.Created.Unix(), 10),
				strconv.FormatInt(item.Hold.Unix(), 10),
				strconv.FormatInt(item.Lifetime.Unix(), 10),
			}, "\x1f")
			if _, _, err := tx.Set(propKeyString(key.kind, key.user, key.host), val, nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// Load reads every persisted propagated ban and installs it into store via
// the normal replace-old rule (so a ban that's since been superseded by a
// fresher broadcast on this process is handled the same as any other
// collision).
func (s *Snapshot) Load(store *Store) error {
	return s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys("ban:*", func(key, val string) bool {
			item, err := parseSnapshotRow(val)
			if err != nil {
				return true
			}
			store.InstallPropagated(item)
			return true
		})
	})
}

func parseSnapshotRow(val string) (*ConfItem, error) {
	parts := strings.Split(val, "\x1f")
	if len(parts) != 8 {
		return nil, fmt.Errorf("confstore: malformed snapshot row")
	}
	kindN, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, err
	}
	created, err := strconv.ParseInt(parts[5], 10, 64)
	if err != nil {
		return nil, err
	}
	hold, err := strconv.ParseInt(parts[6], 10, 64)
	if err != nil {
		return nil, err
	}
	lifetime, err := strconv.ParseInt(parts[7], 10, 64)
	if err != nil {
		return nil, err
	}
	return &ConfItem{
		Kind:        Kind(kindN),
		UserPattern: parts[1],
		HostPattern: parts[2],
		Passwd:      parts[3],
		Oper:        parts[4],
		Created:     time.Unix(created, 0).UTC(),
		Hold:        time.Unix(hold, 0).UTC(),
		Lifetime:    time.Unix(lifetime, 0).UTC(),
	}, nil
}
