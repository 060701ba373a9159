// Package federation mantiene el mapeo de grupos federados por organización
// que el Provider sincroniza vía security events.
//
// Los ids de org y de grupo se asignan localmente (max+1), nunca se reusan
// ni se reasignan. Los grupos no se borran: se marcan deleted.
package federation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/dropDatabas3/hellologin/internal/metrics"
	"github.com/dropDatabas3/hellologin/internal/observability/logger"
)

// Group es un grupo conocido de una org.
type Group struct {
	Value   string `json:"value"`
	ID      int    `json:"id"`
	Display string `json:"display"`
	Deleted bool   `json:"deleted,omitempty"`
}

// OrgGroups es la colección de grupos de una org.
type OrgGroups struct {
	Org    string  `json:"org"`
	ID     int     `json:"id"`
	Groups []Group `json:"groups"`
}

// IncomingGroup es un grupo recibido en un sync.
type IncomingGroup struct {
	Value   string
	Display string
}

// ValidationError es un payload de sync mal formado.
type ValidationError struct {
	Code string
}

func (e *ValidationError) Error() string { return "federation: " + e.Code }

var (
	ErrOrgNotString   = &ValidationError{Code: "org_not_string"}
	ErrOrgMissing     = &ValidationError{Code: "org_missing"}
	ErrGroupsNotArray = &ValidationError{Code: "groups_not_array"}

	// ErrConflict lo retorna DocumentStore.Save cuando la versión cambió.
	ErrConflict = errors.New("federation: version conflict")
	// ErrTooManyConflicts: se agotaron los reintentos de Sync.
	ErrTooManyConflicts = errors.New("federation: too many concurrent updates")
)

// DocumentStore guarda la colección completa como un documento versionado.
type DocumentStore interface {
	// Load retorna el documento y su versión. Sin documento: nil, 0, nil.
	Load(ctx context.Context) ([]byte, int64, error)
	// Save escribe doc con versión expected+1 solo si la versión actual es
	// expected; si no, ErrConflict.
	Save(ctx context.Context, doc []byte, expected int64) error
}

// DefaultMaxRetries para Sync ante conflictos.
const DefaultMaxRetries = 5

// Registry implementa sync y consulta sobre un DocumentStore.
type Registry struct {
	store      DocumentStore
	maxRetries int
}

// NewRegistry crea un Registry.
func NewRegistry(store DocumentStore) *Registry {
	return &Registry{store: store, maxRetries: DefaultMaxRetries}
}

// orgRecord y arena son la representación en memoria: org -> grupos por value.
type orgRecord struct {
	id     int
	groups map[string]*Group
}

type arena struct {
	orgs map[string]*orgRecord
}

func decodeArena(doc []byte) (*arena, error) {
	a := &arena{orgs: map[string]*orgRecord{}}
	if len(doc) == 0 {
		return a, nil
	}
	var list []OrgGroups
	if err := json.Unmarshal(doc, &list); err != nil {
		return nil, fmt.Errorf("federation: decode document: %w", err)
	}
	for _, og := range list {
		rec := &orgRecord{id: og.ID, groups: make(map[string]*Group, len(og.Groups))}
		for i := range og.Groups {
			g := og.Groups[i]
			rec.groups[g.Value] = &g
		}
		a.orgs[og.Org] = rec
	}
	return a, nil
}

// list retorna las orgs ordenadas por id, con sus grupos ordenados por id.
func (a *arena) list() []OrgGroups {
	out := make([]OrgGroups, 0, len(a.orgs))
	for org, rec := range a.orgs {
		og := OrgGroups{Org: org, ID: rec.id, Groups: make([]Group, 0, len(rec.groups))}
		for _, g := range rec.groups {
			og.Groups = append(og.Groups, *g)
		}
		sort.Slice(og.Groups, func(i, j int) bool { return og.Groups[i].ID < og.Groups[j].ID })
		out = append(out, og)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (a *arena) encode() ([]byte, error) {
	return json.Marshal(a.list())
}

func (a *arena) sync(org string, incoming []IncomingGroup) {
	rec, ok := a.orgs[org]
	if !ok {
		maxID := 0
		for _, r := range a.orgs {
			maxID = max(maxID, r.id)
		}
		rec = &orgRecord{id: maxID + 1, groups: map[string]*Group{}}
		a.orgs[org] = rec
	}

	seen := make(map[string]bool, len(incoming))
	for _, in := range incoming {
		seen[in.Value] = true
		if g, ok := rec.groups[in.Value]; ok {
			g.Display = in.Display
			g.Deleted = false
			continue
		}
		maxID := 0
		for _, g := range rec.groups {
			maxID = max(maxID, g.ID)
		}
		rec.groups[in.Value] = &Group{Value: in.Value, ID: maxID + 1, Display: in.Display}
	}

	for value, g := range rec.groups {
		if !seen[value] {
			g.Deleted = true
		}
	}
}

// Sync aplica el set de grupos recibido para org. Usa concurrencia optimista
// sobre el DocumentStore, reintentando ante ErrConflict.
func (r *Registry) Sync(ctx context.Context, org string, incoming []IncomingGroup) error {
	log := logger.From(ctx).With(logger.Layer("federation"), logger.Op("Sync"), logger.Org(org))
	if org == "" {
		metrics.FederationSync("invalid")
		return ErrOrgMissing
	}

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		doc, version, err := r.store.Load(ctx)
		if err != nil {
			metrics.FederationSync("error")
			return err
		}
		a, err := decodeArena(doc)
		if err != nil {
			metrics.FederationSync("error")
			return err
		}
		a.sync(org, incoming)

		next, err := a.encode()
		if err != nil {
			metrics.FederationSync("error")
			return err
		}
		err = r.store.Save(ctx, next, version)
		if errors.Is(err, ErrConflict) {
			log.Debug("sync conflict, retrying", logger.Int("attempt", attempt))
			continue
		}
		if err != nil {
			metrics.FederationSync("error")
			return err
		}
		metrics.FederationSync("ok")
		log.Info("federation groups synced", logger.Count(len(incoming)), logger.Category("federation-groups-sync"))
		return nil
	}
	metrics.FederationSync("conflict")
	return ErrTooManyConflicts
}

// SyncEvent valida el sub-evento federation-groups-sync y aplica Sync.
func (r *Registry) SyncEvent(ctx context.Context, subEvent map[string]any) error {
	org, incoming, err := ParseSyncEvent(subEvent)
	if err != nil {
		metrics.FederationSync("invalid")
		return err
	}
	return r.Sync(ctx, org, incoming)
}

// ParseSyncEvent extrae org y groups del payload.
func ParseSyncEvent(subEvent map[string]any) (string, []IncomingGroup, error) {
	org, ok := subEvent["org"].(string)
	if !ok {
		return "", nil, ErrOrgNotString
	}
	if org == "" {
		return "", nil, ErrOrgMissing
	}
	raw, ok := subEvent["groups"].([]any)
	if !ok {
		return "", nil, ErrGroupsNotArray
	}

	incoming := make([]IncomingGroup, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		value := scalar(m["value"])
		if value == "" {
			continue
		}
		incoming = append(incoming, IncomingGroup{Value: value, Display: scalar(m["display"])})
	}
	return org, incoming, nil
}

func scalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// GetOrgsGroups retorna las orgs con sus grupos no borrados; las orgs sin
// grupos vigentes se omiten.
func (r *Registry) GetOrgsGroups(ctx context.Context) ([]OrgGroups, error) {
	doc, _, err := r.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	a, err := decodeArena(doc)
	if err != nil {
		return nil, err
	}

	out := []OrgGroups{}
	for _, og := range a.list() {
		live := og.Groups[:0]
		for _, g := range og.Groups {
			if !g.Deleted {
				live = append(live, g)
			}
		}
		if len(live) == 0 {
			continue
		}
		og.Groups = live
		out = append(out, og)
	}
	return out, nil
}
