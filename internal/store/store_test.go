package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"licensed/internal/license"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var issued = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newLicense(key string, limit int) license.License {
	return license.License{
		Key:             key,
		ProductName:     "OptimumLap",
		OwnerName:       "Velocity Labs",
		Tier:            license.TierTrial,
		IssuedAt:        issued,
		ExpiresAt:       issued.Add(30 * 24 * time.Hour),
		ActivationLimit: limit,
	}
}

func implementations(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewMemory()
		},
		"bbolt": func(t *testing.T) Store {
			st, err := OpenBBolt(filepath.Join(t.TempDir(), "licenses.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = st.Close() })
			return st
		},
	}
}

func TestStore(t *testing.T) {
	for name, open := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("get missing", func(t *testing.T) {
				st := open(t)
				_, err := st.Get("NOPE")
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("insert and get normalizes key", func(t *testing.T) {
				st := open(t)
				require.NoError(t, st.Insert(newLicense("opt-a", 1)))

				got, err := st.Get(" OPT-A ")
				require.NoError(t, err)
				assert.Equal(t, "OPT-A", got.Key)
				assert.Equal(t, "OptimumLap", got.ProductName)
				assert.True(t, issued.Equal(got.IssuedAt))
			})

			t.Run("insert rejects duplicates and invalid records", func(t *testing.T) {
				st := open(t)
				require.NoError(t, st.Insert(newLicense("OPT-A", 1)))
				assert.ErrorIs(t, st.Insert(newLicense("OPT-A", 5)), ErrExists)

				bad := newLicense("OPT-B", 1)
				bad.ExpiresAt = bad.IssuedAt
				assert.Error(t, st.Insert(bad))
				_, err := st.Get("OPT-B")
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("list keeps insertion order", func(t *testing.T) {
				st := open(t)
				for _, k := range []string{"OPT-Z", "OPT-A", "OPT-M"} {
					require.NoError(t, st.Insert(newLicense(k, 1)))
				}
				list, err := st.List()
				require.NoError(t, err)
				keys := make([]string, 0, len(list))
				for _, l := range list {
					keys = append(keys, l.Key)
				}
				assert.Equal(t, []string{"OPT-Z", "OPT-A", "OPT-M"}, keys)
			})

			t.Run("list on empty store", func(t *testing.T) {
				list, err := open(t).List()
				require.NoError(t, err)
				assert.Empty(t, list)
			})

			t.Run("with license commits", func(t *testing.T) {
				st := open(t)
				require.NoError(t, st.Insert(newLicense("OPT-A", 2)))

				out, err := st.WithLicense("OPT-A", func(l *license.License) error {
					l.Activations = append(l.Activations, license.Activation{MachineID: "M1", ActivatedBy: "jane", ActivatedAt: issued})
					l.EverActivated = true
					return nil
				})
				require.NoError(t, err)
				assert.Len(t, out.Activations, 1)

				got, err := st.Get("OPT-A")
				require.NoError(t, err)
				require.Len(t, got.Activations, 1)
				assert.Equal(t, "M1", got.Activations[0].MachineID)
				assert.Nil(t, got.Activations[0].LastHeartbeat)
				assert.True(t, got.EverActivated)
			})

			t.Run("with license error leaves state unchanged", func(t *testing.T) {
				st := open(t)
				require.NoError(t, st.Insert(newLicense("OPT-A", 2)))
				boom := errors.New("boom")

				_, err := st.WithLicense("OPT-A", func(l *license.License) error {
					l.Notes = "partial"
					l.Activations = append(l.Activations, license.Activation{MachineID: "M1"})
					return boom
				})
				assert.ErrorIs(t, err, boom)

				got, err := st.Get("OPT-A")
				require.NoError(t, err)
				assert.Empty(t, got.Notes)
				assert.Empty(t, got.Activations)
			})

			t.Run("insert marks records with activations as activated", func(t *testing.T) {
				st := open(t)
				lic := newLicense("OPT-A", 2)
				lic.Activations = []license.Activation{{MachineID: "M1", ActivatedBy: "jane", ActivatedAt: issued}}
				require.NoError(t, st.Insert(lic))
				require.NoError(t, st.Insert(newLicense("OPT-B", 2)))

				got, err := st.Get("OPT-A")
				require.NoError(t, err)
				assert.True(t, got.EverActivated)
				got, err = st.Get("OPT-B")
				require.NoError(t, err)
				assert.False(t, got.EverActivated)
			})

			t.Run("with license missing key", func(t *testing.T) {
				called := false
				_, err := open(t).WithLicense("NOPE", func(*license.License) error {
					called = true
					return nil
				})
				assert.ErrorIs(t, err, ErrNotFound)
				assert.False(t, called)
			})

			t.Run("key cannot be rewritten", func(t *testing.T) {
				st := open(t)
				require.NoError(t, st.Insert(newLicense("OPT-A", 1)))
				_, err := st.WithLicense("OPT-A", func(l *license.License) error {
					l.Key = "OTHER"
					return nil
				})
				require.NoError(t, err)
				_, err = st.Get("OPT-A")
				assert.NoError(t, err)
				_, err = st.Get("OTHER")
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("snapshots do not alias stored state", func(t *testing.T) {
				st := open(t)
				lic := newLicense("OPT-A", 1)
				lic.Activations = []license.Activation{{MachineID: "M1"}}
				require.NoError(t, st.Insert(lic))

				got, err := st.Get("OPT-A")
				require.NoError(t, err)
				got.Activations[0].MachineID = "changed"

				again, err := st.Get("OPT-A")
				require.NoError(t, err)
				assert.Equal(t, "M1", again.Activations[0].MachineID)
			})

			t.Run("concurrent updates on one key are not lost", func(t *testing.T) {
				st := open(t)
				const n = 50
				require.NoError(t, st.Insert(newLicense("OPT-A", n)))

				var wg sync.WaitGroup
				for i := 0; i < n; i++ {
					wg.Add(1)
					go func(i int) {
						defer wg.Done()
						_, err := st.WithLicense("OPT-A", func(l *license.License) error {
							l.Activations = append(l.Activations, license.Activation{MachineID: fmt.Sprintf("M%d", i)})
							return nil
						})
						assert.NoError(t, err)
					}(i)
				}
				wg.Wait()

				got, err := st.Get("OPT-A")
				require.NoError(t, err)
				assert.Len(t, got.Activations, n)
			})

			t.Run("different keys do not block each other", func(t *testing.T) {
				st := open(t)
				require.NoError(t, st.Insert(newLicense("OPT-A", 1)))
				require.NoError(t, st.Insert(newLicense("OPT-B", 1)))

				entered := make(chan struct{})
				release := make(chan struct{})
				done := make(chan error, 1)
				go func() {
					_, err := st.WithLicense("OPT-A", func(*license.License) error {
						close(entered)
						<-release
						return nil
					})
					done <- err
				}()
				<-entered

				_, err := st.WithLicense("OPT-B", func(l *license.License) error {
					l.Notes = "touched"
					return nil
				})
				require.NoError(t, err)

				_, err = st.Get("OPT-A")
				require.NoError(t, err)
				_, err = st.List()
				require.NoError(t, err)

				close(release)
				require.NoError(t, <-done)
			})
		})
	}
}

func TestBBoltPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "licenses.db")

	st, err := OpenBBolt(path)
	require.NoError(t, err)
	require.NoError(t, st.Insert(newLicense("OPT-B", 2)))
	require.NoError(t, st.Insert(newLicense("OPT-A", 2)))
	hb := issued.Add(time.Hour)
	_, err = st.WithLicense("OPT-A", func(l *license.License) error {
		l.Activations = append(l.Activations, license.Activation{MachineID: "M1", ActivatedBy: "jane", ActivatedAt: issued, LastHeartbeat: &hb})
		l.EverActivated = true
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, st.Close())

	st, err = OpenBBolt(path)
	require.NoError(t, err)
	defer st.Close()

	list, err := st.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "OPT-B", list[0].Key)
	assert.Equal(t, "OPT-A", list[1].Key)
	require.Len(t, list[1].Activations, 1)
	assert.Equal(t, "jane", list[1].Activations[0].ActivatedBy)
	require.NotNil(t, list[1].Activations[0].LastHeartbeat)
	assert.True(t, hb.Equal(*list[1].Activations[0].LastHeartbeat))
	assert.True(t, list[1].EverActivated)
}

func TestBBoltLockTableDrains(t *testing.T) {
	st, err := OpenBBolt(filepath.Join(t.TempDir(), "licenses.db"))
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.Insert(newLicense("OPT-A", 1)))

	for i := 0; i < 1000; i++ {
		_, err := st.WithLicense(fmt.Sprintf("NOPE-%d", i), func(*license.License) error { return nil })
		require.ErrorIs(t, err, ErrNotFound)
	}
	_, err = st.WithLicense("OPT-A", func(l *license.License) error {
		l.Notes = "touched"
		return nil
	})
	require.NoError(t, err)
	_, err = st.WithLicense("OPT-A", func(*license.License) error { return errors.New("rejected") })
	require.Error(t, err)

	assert.Zero(t, st.locks.size())
}

func TestKeyLocksSerializeAndRelease(t *testing.T) {
	var k keyLocks
	const n = 32
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		overlap bool
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.lock("OPT-A")
			mu.Lock()
			inside++
			if inside > 1 {
				overlap = true
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.False(t, overlap)
	assert.Zero(t, k.size())
}
