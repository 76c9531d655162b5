// Package profile generates pprof compatible profiles of a chip registry,
// with one sample per declared constraint attributed to its declaration
// site. Declaration stacks are only collected under the debug build tag;
// without it the profile still counts constraints but carries no locations.
package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/pprof/profile"

	"github.com/volta-zk/volta/air"
	"github.com/volta-zk/volta/debug"
	"github.com/volta-zk/volta/logger"
)

// Profile accumulates constraint samples across builders.
type Profile struct {
	filePath string

	mu sync.Mutex

	// details on the pprof format:
	// https://github.com/google/pprof/blob/main/proto/README.md
	pprof profile.Profile

	functions map[string]*profile.Function
	locations map[string]*profile.Location
	samples   map[string]*profile.Sample

	nbConstraints int
}

// Active sessions receive the builders evaluated by the machine between
// Start and Stop.
var (
	sessionsMu sync.Mutex
	sessions   []*Profile
)

// RecordBuilder feeds the builder's constraints to every active session.
// The machine calls it once per chip builder it evaluates; with no active
// session it is a no-op.
func RecordBuilder(b *air.Builder) {
	sessionsMu.Lock()
	active := make([]*Profile, len(sessions))
	copy(active, sessions)
	sessionsMu.Unlock()
	for _, p := range active {
		p.Add(b)
	}
}

// Option configures a Profile.
type Option func(*Profile)

// WithPath controls the profile destination file. If blank, the profile is
// not written to disk.
//
// Defaults to ./volta.pprof.
func WithPath(path string) Option {
	return func(p *Profile) {
		p.filePath = path
	}
}

// WithNoOutput indicates that the profile is not going to be written to
// disk. Equivalent to WithPath("").
func WithNoOutput() Option {
	return func(p *Profile) {
		p.filePath = ""
	}
}

// Start creates a profiling session. Feed it builders with Add, then Stop to
// write the profile.
func Start(options ...Option) *Profile {
	p := &Profile{
		filePath:  filepath.Join(".", "volta.pprof"),
		functions: make(map[string]*profile.Function),
		locations: make(map[string]*profile.Location),
		samples:   make(map[string]*profile.Sample),
	}
	p.pprof.SampleType = []*profile.ValueType{{
		Type: "constraints",
		Unit: "count",
	}}
	for _, option := range options {
		option(p)
	}
	sessionsMu.Lock()
	sessions = append(sessions, p)
	sessionsMu.Unlock()

	log := logger.Logger()
	if p.filePath == "" {
		log.Debug().Msg("constraint profiling enabled [not writing to disk]")
	} else {
		log.Debug().Str("path", p.filePath).Msg("constraint profiling enabled")
	}
	return p
}

// Add records every constraint of the builder.
func (p *Profile) Add(b *air.Builder) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := b.Symbols()
	for _, c := range b.Constraints() {
		p.nbConstraints++
		if len(c.Stack) == 0 {
			continue
		}
		locs := make([]*profile.Location, len(c.Stack))
		key := ""
		for i, lID := range c.Stack {
			locs[i] = p.location(st, lID)
			key = fmt.Sprintf("%s%d/", key, locs[i].ID)
		}
		if s, ok := p.samples[key]; ok {
			s.Value[0]++
			continue
		}
		s := &profile.Sample{Location: locs, Value: []int64{1}}
		p.samples[key] = s
		p.pprof.Sample = append(p.pprof.Sample, s)
	}
}

// NbConstraints returns the number of constraints recorded so far.
func (p *Profile) NbConstraints() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nbConstraints
}

// Stop deactivates the session and, when a path is set, writes the profile
// to disk.
func (p *Profile) Stop() error {
	sessionsMu.Lock()
	for i := range sessions {
		if sessions[i] == p {
			sessions = append(sessions[:i], sessions[i+1:]...)
			break
		}
	}
	sessionsMu.Unlock()

	if p.filePath == "" {
		return nil
	}
	f, err := os.Create(p.filePath)
	if err != nil {
		return fmt.Errorf("profile: %w", err)
	}
	defer f.Close()
	if err := p.pprof.Write(f); err != nil {
		return fmt.Errorf("profile: %w", err)
	}
	log := logger.Logger()
	log.Debug().Str("path", p.filePath).Int("constraints", p.nbConstraints).Msg("profile written")
	return nil
}

// location resolves a symbol table location into the pprof profile, creating
// the function record on first sight.
func (p *Profile) location(st *debug.SymbolTable, lID int) *profile.Location {
	loc := st.Locations[lID]
	fn := st.Functions[loc.FunctionID]

	fKey := fn.Filename + fn.Name
	pf, ok := p.functions[fKey]
	if !ok {
		pf = &profile.Function{
			ID:         uint64(len(p.functions) + 1),
			Name:       fn.Name,
			SystemName: fn.SystemName,
			Filename:   fn.Filename,
		}
		p.functions[fKey] = pf
		p.pprof.Function = append(p.pprof.Function, pf)
	}

	lKey := fmt.Sprintf("%s:%d", fKey, loc.Line)
	pl, ok := p.locations[lKey]
	if !ok {
		pl = &profile.Location{
			ID:   uint64(len(p.locations) + 1),
			Line: []profile.Line{{Function: pf, Line: loc.Line}},
		}
		p.locations[lKey] = pl
		p.pprof.Location = append(p.pprof.Location, pl)
	}
	return pl
}
