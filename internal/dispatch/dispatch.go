// Package dispatch maintains the registry of headered templates keyed by
// their start sequence (spec.md §4.10), resolves which template a buffer
// belongs to with longest-match-first tiebreaking, and relocates the next
// plausible message start after a decode failure via a bitmask multi-
// pattern scan (the same Shift-Or/BNDM family of algorithm: precomputed
// per-pattern bit tables scanned in one left-to-right pass).
package dispatch

import (
	"bytes"
	"sort"

	"github.com/foundryfieldworks/tagwire/internal/codecerr"
	"github.com/foundryfieldworks/tagwire/internal/template"
)

type startKey struct {
	start []byte
	tmpl  *template.Template
}

// Registry holds every headered template known to one codec instance (one
// Registry per protocol family), enforcing I5: no two templates may share a
// start sequence.
type Registry struct {
	starts  []startKey
	plain   []*template.Template // templates with no header at all
	scanner *patternScanner
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds t to the registry. Templates without a Header are kept
// aside as header-less fallbacks, tried only when no header start matches.
func (r *Registry) Register(t *template.Template) error {
	if t.Header == nil {
		r.plain = append(r.plain, t)
		return nil
	}
	for _, s := range t.Header.Starts {
		for _, existing := range r.starts {
			if bytes.Equal(existing.start, s) {
				return codecerr.Newf(codecerr.Template, "duplicate-key", "header start %x is already registered", s)
			}
		}
		r.starts = append(r.starts, startKey{start: s, tmpl: t})
	}
	r.scanner = nil // invalidate cached pattern tables
	return nil
}

// MatchTemplate returns the template whose header start is a prefix of
// data, preferring the longest matching start (spec.md's longest-match-
// first rule) and falling back to a header-less template if none match.
func (r *Registry) MatchTemplate(data []byte) (*template.Template, error) {
	candidates := make([]startKey, 0, len(r.starts))
	for _, sk := range r.starts {
		if bytes.HasPrefix(data, sk.start) {
			candidates = append(candidates, sk)
		}
	}
	if len(candidates) > 0 {
		sort.SliceStable(candidates, func(i, j int) bool {
			return len(candidates[i].start) > len(candidates[j].start)
		})
		return candidates[0].tmpl, nil
	}
	if len(r.plain) > 0 {
		return r.plain[0], nil
	}
	return nil, codecerr.New(codecerr.Template, "no-match", "no registered template matches this buffer's header")
}

func (r *Registry) patterns() [][]byte {
	out := make([][]byte, 0, len(r.starts))
	for _, sk := range r.starts {
		out = append(out, sk.start)
	}
	return out
}

func (r *Registry) ensureScanner() {
	if r.scanner == nil {
		r.scanner = newPatternScanner(r.patterns())
	}
}

// FindNextMessageIndex scans data starting at fromOffset+1 for the next
// byte offset at which some registered header start begins, used to
// resynchronize after a corrupted message (spec.md's scanner recovery
// behavior). Returns -1 if none is found before the end of the buffer.
func (r *Registry) FindNextMessageIndex(data []byte, fromOffset int) int {
	r.ensureScanner()
	if r.scanner == nil || len(r.starts) == 0 {
		return -1
	}
	return r.scanner.nextMatch(data, fromOffset+1)
}

// patternScanner runs a Shift-Or bitmask search for any of a fixed set of
// patterns, each no wider than 64 bytes, in a single left-to-right pass.
// Each pattern gets its own per-byte bitmask table built once at
// construction (the "cached per-pattern tables" the algorithm relies on for
// its amortized linear scan).
type patternScanner struct {
	patterns []patternState
}

type patternState struct {
	length int
	mask   [256]uint64
	accept uint64
}

func newPatternScanner(patterns [][]byte) *patternScanner {
	ps := &patternScanner{}
	for _, p := range patterns {
		if len(p) == 0 || len(p) > 64 {
			continue // degenerate/too-long patterns are skipped; never matched
		}
		var st patternState
		st.length = len(p)
		for i := range st.mask {
			st.mask[i] = ^uint64(0)
		}
		for i, b := range p {
			st.mask[b] &^= uint64(1) << uint(i)
		}
		st.accept = uint64(1) << uint(len(p)-1)
		ps.patterns = append(ps.patterns, st)
	}
	return ps
}

// nextMatch returns the lowest index >= from at which any pattern starts.
func (ps *patternScanner) nextMatch(data []byte, from int) int {
	if from < 0 {
		from = 0
	}
	if from >= len(data) {
		return -1
	}
	states := make([]uint64, len(ps.patterns))
	maxLen := 0
	for i, st := range ps.patterns {
		states[i] = ^uint64(0)
		if st.length > maxLen {
			maxLen = st.length
		}
	}
	best := -1
	for pos := from; pos < len(data); pos++ {
		if best >= 0 && pos >= best+maxLen {
			break
		}
		b := data[pos]
		for i, st := range ps.patterns {
			states[i] = (states[i] << 1) | st.mask[b]
			if states[i]&st.accept == 0 {
				start := pos - st.length + 1
				if start >= from && (best < 0 || start < best) {
					best = start
				}
			}
		}
	}
	return best
}
