package pipeline

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

const (
	MaxChainLength   = 20
	MaxRegistered    = 100
	maxIDLength      = 64
	fuzzyMaxDistance = 2
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// injectionBait are substrings that, found in a raw middleware id before the
// regex check runs, are rejected immediately rather than scored for typos
// (they're never a legitimate id, so spending Levenshtein time on them is
// wasted work an attacker can pad for free).
var injectionBait = []string{"..", "\x00", "\r", "\n", "';", "--", "/*", "<script"}

// Registry holds every middleware instance known to a config snapshot,
// keyed by id, and validates chains referencing it (spec §4.8).
type Registry struct {
	byID map[string]Middleware
}

func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]Middleware)}
}

// Register adds mw, enforcing MaxRegistered and the id format.
func (r *Registry) Register(mw Middleware) error {
	if len(r.byID) >= MaxRegistered {
		return fmt.Errorf("pipeline: registry full (max %d middleware)", MaxRegistered)
	}
	if err := validateID(mw.ID()); err != nil {
		return err
	}
	r.byID[mw.ID()] = mw
	return nil
}

func (r *Registry) Get(id string) (Middleware, bool) {
	mw, ok := r.byID[id]
	return mw, ok
}

func validateID(id string) error {
	if len(id) == 0 || len(id) > maxIDLength {
		return fmt.Errorf("pipeline: middleware id length out of bounds: %d", len(id))
	}
	for _, bait := range injectionBait {
		if strings.Contains(id, bait) {
			return fmt.Errorf("pipeline: middleware id %q contains disallowed sequence", id)
		}
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("pipeline: middleware id %q does not match [A-Za-z0-9_-]{1,64}", id)
	}
	return nil
}

// Chain resolves an ordered list of middleware ids against the registry,
// applying the validation and REPLACEMENT conflict policy of spec §4.8.
// warnings carries one message per same-type duplicate skipped.
func (r *Registry) Chain(ids []string) (stages []Middleware, warnings []string, err error) {
	if len(ids) > MaxChainLength {
		return nil, nil, fmt.Errorf("pipeline: chain length %d exceeds max %d", len(ids), MaxChainLength)
	}

	seenTypes := make(map[Type]string) // type -> id that claimed it
	for _, id := range ids {
		mw, ok := r.byID[id]
		if !ok {
			return nil, nil, r.unknownIDError(id)
		}
		if claimedBy, dup := seenTypes[mw.Type()]; dup {
			warnings = append(warnings, fmt.Sprintf(
				"middleware %q skipped: type %s already claimed by %q on this route", id, mw.Type(), claimedBy))
			continue
		}
		seenTypes[mw.Type()] = id
		stages = append(stages, mw)
	}
	return stages, warnings, nil
}

// unknownIDError reports a missing middleware reference, attaching a bounded
// fuzzy-match suggestion when a registered id is a close typo (spec §4.8).
func (r *Registry) unknownIDError(id string) error {
	suggestion := r.suggest(id)
	if suggestion == "" {
		return fmt.Errorf("pipeline: unknown middleware id %q", id)
	}
	return fmt.Errorf("pipeline: unknown middleware id %q (did you mean %q?)", id, suggestion)
}

// suggest finds the closest registered id to target, or "" if none is
// within fuzzyMaxDistance. A target longer than maxIDLength is rejected
// before scoring starts, since Levenshtein distance is O(len(a)*len(b)) and
// an attacker-supplied multi-KB id must not be allowed to spend CPU on it.
func (r *Registry) suggest(target string) string {
	if len(target) > maxIDLength {
		return ""
	}
	for _, bait := range injectionBait {
		if strings.Contains(target, bait) {
			return ""
		}
	}
	best := ""
	bestDist := fuzzyMaxDistance + 1
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids) // deterministic tie-break
	for _, candidate := range ids {
		d := fuzzy.LevenshteinDistance(target, candidate)
		if d > 0 && d <= fuzzyMaxDistance && d < bestDist {
			bestDist = d
			best = candidate
		}
	}
	return best
}
