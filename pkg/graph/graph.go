// Package graph implements the cognitive graph from spec.md §4.10: signed,
// clamped, accumulating edges with temporal decay applied only on read.
// Backed by go.etcd.io/bbolt, a single-file embedded KV engine — the
// closest Go analogue in the example pack to the original SurrealDB graph
// (original_source/test_surreal_take/src/main.rs); no pack repo imports a
// graph database directly, so this substitution is named, not silently
// assumed (see DESIGN.md). Buckets act as namespaces; each edge is one key
// holding a JSON-encoded record.
package graph

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/sipeed/ryuuko/pkg/rterr"
	"github.com/sipeed/ryuuko/pkg/types"
)

const (
	bucketAttitudes = "attitudes_towards" // R -> U
	bucketIllusion  = "illusion_of"       // U -> R
	bucketFeelsAbout = "feels_about"      // R -> Entity
	bucketInteracts = "interacts_with"    // U1 -> U2

	agentName = "ryuuko"

	clampDeltaMin = -0.30
	clampDeltaMax = 0.30
	clampValueMin = -1.0
	clampValueMax = 1.0

	dailyDecay = 0.99
)

// Store is the embedded KV-backed graph.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if necessary) the bbolt database at path and
// ensures every bucket namespace exists.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: open graph db: %v", rterr.StoreFailure, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range []string{bucketAttitudes, bucketIllusion, bucketFeelsAbout, bucketInteracts} {
			if _, err := tx.CreateBucketIfNotExists([]byte(b)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: create graph buckets: %v", rterr.StoreFailure, err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// socialRecord is the on-disk shape for Attitudes/Illusion edges.
type socialRecord struct {
	types.SocialAxes
	LastUpdated int64 `json:"last_updated"`
}

// entityRecord is the on-disk shape for FeelsAbout edges.
type entityRecord struct {
	types.EntityAxes
	LastUpdated int64 `json:"last_updated"`
}

// tensionRecord is the on-disk shape for InteractsWith edges.
type tensionRecord struct {
	Tension     float64 `json:"tension"`
	LastUpdated int64   `json:"last_updated"`
}

// Sanitize strips backticks and single/double quotes from a user or entity
// name before it is used to build an edge id, per spec.md §4.10.
func Sanitize(name string) string {
	r := strings.NewReplacer("`", "", "'", "", `"`, "")
	return r.Replace(name)
}

func attitudesID(user string) string { return agentName + "_" + Sanitize(user) }
func illusionID(user string) string  { return Sanitize(user) + "_" + agentName }
func feelsAboutID(entity string) string { return agentName + "_" + Sanitize(entity) }
func interactsID(u1, u2 string) string  { return Sanitize(u1) + "_" + Sanitize(u2) }

func clampDelta(d float64) float64 {
	if d > clampDeltaMax {
		return clampDeltaMax
	}
	if d < clampDeltaMin {
		return clampDeltaMin
	}
	return d
}

func clampValue(v float64) float64 {
	if v > clampValueMax {
		return clampValueMax
	}
	if v < clampValueMin {
		return clampValueMin
	}
	return v
}

// SocialDelta is the five-axis delta applied to an Attitudes/Illusion edge.
type SocialDelta = types.SocialAxes

// UpdateAttitudes applies a clamped delta-accumulating write to the R->U
// attitudes_towards edge for user, per spec.md §4.10 steps 1-3.
func (s *Store) UpdateAttitudes(user string, delta SocialDelta, now time.Time) error {
	return s.updateSocial(bucketAttitudes, attitudesID(user), delta, now)
}

// UpdateIllusion applies a clamped delta-accumulating write to the U->R
// illusion_of edge for user.
func (s *Store) UpdateIllusion(user string, delta SocialDelta, now time.Time) error {
	return s.updateSocial(bucketIllusion, illusionID(user), delta, now)
}

func (s *Store) updateSocial(bucket, id string, delta SocialDelta, now time.Time) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		rec := socialRecord{LastUpdated: now.Unix()}
		if raw := b.Get([]byte(id)); raw != nil {
			if err := json.Unmarshal(raw, &rec); err != nil {
				return fmt.Errorf("%w: decode %s/%s: %v", rterr.StoreFailure, bucket, id, err)
			}
		}
		rec.Affinity = clampValue(rec.Affinity + clampDelta(delta.Affinity))
		rec.Attachment = clampValue(rec.Attachment + clampDelta(delta.Attachment))
		rec.Trust = clampValue(rec.Trust + clampDelta(delta.Trust))
		rec.Safety = clampValue(rec.Safety + clampDelta(delta.Safety))
		rec.Tension = clampValue(rec.Tension + clampDelta(delta.Tension))
		rec.LastUpdated = now.Unix()

		raw, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("%w: encode %s/%s: %v", rterr.StoreFailure, bucket, id, err)
		}
		return b.Put([]byte(id), raw)
	})
}

// UpdateFeelsAbout applies a clamped delta-accumulating write to the
// R->Entity feels_about edge.
func (s *Store) UpdateFeelsAbout(entity string, delta types.EntityAxes, now time.Time) error {
	id := feelsAboutID(entity)
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketFeelsAbout))
		rec := entityRecord{LastUpdated: now.Unix()}
		if raw := b.Get([]byte(id)); raw != nil {
			if err := json.Unmarshal(raw, &rec); err != nil {
				return fmt.Errorf("%w: decode feels_about/%s: %v", rterr.StoreFailure, id, err)
			}
		}
		rec.Preference = clampValue(rec.Preference + clampDelta(delta.Preference))
		rec.Stress = clampValue(rec.Stress + clampDelta(delta.Stress))
		rec.Fascination = clampValue(rec.Fascination + clampDelta(delta.Fascination))
		rec.LastUpdated = now.Unix()

		raw, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("%w: encode feels_about/%s: %v", rterr.StoreFailure, id, err)
		}
		return b.Put([]byte(id), raw)
	})
}

// UpdateInteractsTension applies a clamped delta-accumulating write to the
// U1->U2 interacts_with tension edge.
func (s *Store) UpdateInteractsTension(u1, u2 string, delta float64, now time.Time) error {
	id := interactsID(u1, u2)
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketInteracts))
		rec := tensionRecord{LastUpdated: now.Unix()}
		if raw := b.Get([]byte(id)); raw != nil {
			if err := json.Unmarshal(raw, &rec); err != nil {
				return fmt.Errorf("%w: decode interacts_with/%s: %v", rterr.StoreFailure, id, err)
			}
		}
		rec.Tension = clampValue(rec.Tension + clampDelta(delta))
		rec.LastUpdated = now.Unix()

		raw, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("%w: encode interacts_with/%s: %v", rterr.StoreFailure, id, err)
		}
		return b.Put([]byte(id), raw)
	})
}

func decayFactor(lastUpdated int64, now time.Time) float64 {
	if lastUpdated == 0 {
		return 1.0
	}
	deltaDays := now.Sub(time.Unix(lastUpdated, 0)).Hours() / 24.0
	if deltaDays < 0 {
		deltaDays = 0
	}
	return math.Pow(dailyDecay, deltaDays)
}

func (s *Store) readSocial(bucket, id string) (socialRecord, bool, error) {
	var rec socialRecord
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		raw := b.Get([]byte(id))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &rec)
	})
	if err != nil {
		return socialRecord{}, false, fmt.Errorf("%w: read %s/%s: %v", rterr.StoreFailure, bucket, id, err)
	}
	return rec, found, nil
}

// GetSocialContext implements spec.md §4.10's read path: both Attitudes and
// Illusion edges for user, with passive multiplicative decay applied on
// read only (never persisted), so repeated reads without writes yield
// equal values.
func (s *Store) GetSocialContext(user string, now time.Time) (attitudes, illusion types.SocialAxes, err error) {
	aRec, _, err := s.readSocial(bucketAttitudes, attitudesID(user))
	if err != nil {
		return types.SocialAxes{}, types.SocialAxes{}, err
	}
	iRec, _, err := s.readSocial(bucketIllusion, illusionID(user))
	if err != nil {
		return types.SocialAxes{}, types.SocialAxes{}, err
	}

	aDecay := decayFactor(aRec.LastUpdated, now)
	iDecay := decayFactor(iRec.LastUpdated, now)

	attitudes = types.SocialAxes{
		Affinity: aRec.Affinity * aDecay, Attachment: aRec.Attachment * aDecay,
		Trust: aRec.Trust * aDecay, Safety: aRec.Safety * aDecay, Tension: aRec.Tension * aDecay,
	}
	illusion = types.SocialAxes{
		Affinity: iRec.Affinity * iDecay, Attachment: iRec.Attachment * iDecay,
		Trust: iRec.Trust * iDecay, Safety: iRec.Safety * iDecay, Tension: iRec.Tension * iDecay,
	}
	return attitudes, illusion, nil
}

// dumpEdges is an unexported test/debug surface (SPEC_FULL.md, grounded on
// original_source's dump_graph.rs) returning every raw edge record in one
// bucket; not part of the public §6 interface.
func (s *Store) dumpEdges(bucket string) map[string]string {
	out := make(map[string]string)
	_ = s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		return b.ForEach(func(k, v []byte) error {
			out[string(k)] = string(v)
			return nil
		})
	})
	return out
}
