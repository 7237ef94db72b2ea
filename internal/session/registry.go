package session

import (
	"fmt"
	"sort"
	"sync"
)

// Palette is the fixed display color cycle. An object's color is
// Palette[abs(obj_id) % len(Palette)], so the same id always renders the
// same color on every client.
var Palette = []string{
	"#e6194b",
	"#3cb44b",
	"#ffe119",
	"#4363d8",
	"#f58231",
	"#911eb4",
	"#46f0f0",
	"#f032e6",
	"#bcf60c",
	"#008080",
}

// ColorFor returns the deterministic palette color for an object id.
func ColorFor(objID int) string {
	n := objID
	if n < 0 {
		n = -n
	}
	return Palette[n%len(Palette)]
}

// Registry tracks the live objects of one session. It is append-only except
// for explicit removal; repeated sightings of a known id never overwrite its
// mutable fields. The server-side registry is owned by the Coordinator; the
// same type also serves as the client-side mirror, so it carries its own
// lock.
type Registry struct {
	mu      sync.Mutex
	objects map[int]*Object
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{objects: make(map[int]*Object)}
}

// RegisterIfAbsent lazily registers every output whose obj_id is not yet
// known, with deterministic color, visible=true, and sign-derived default
// names. Known ids are untouched.
func (r *Registry) RegisterIfAbsent(outputs []ObjectOutput) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, out := range outputs {
		if _, ok := r.objects[out.ObjID]; ok {
			continue
		}
		r.objects[out.ObjID] = newObjectLocked(out.ObjID)
	}
}

// RegisterManual records a freshly allocated manual object and returns it for
// immediate selection.
func (r *Registry) RegisterManual(objID int) Object {
	r.mu.Lock()
	defer r.mu.Unlock()
	if obj, ok := r.objects[objID]; ok {
		return *obj
	}
	obj := newObjectLocked(objID)
	r.objects[objID] = obj
	return *obj
}

func newObjectLocked(objID int) *Object {
	className := "detected_object"
	if objID < 0 {
		className = "manual_object"
	}
	return &Object{
		ObjID:        objID,
		DisplayColor: ColorFor(objID),
		Visible:      true,
		ClassName:    className,
		InstanceName: fmt.Sprintf("obj_%d", objID),
	}
}

// Get returns a copy of the object record for objID.
func (r *Registry) Get(objID int) (Object, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	obj, ok := r.objects[objID]
	if !ok {
		return Object{}, false
	}
	return *obj, true
}

// List returns copies of all objects in ascending obj_id order, which is also
// the compositor's blending order.
func (r *Registry) List() []Object {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Object, 0, len(r.objects))
	for _, obj := range r.objects {
		out = append(out, *obj)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ObjID < out[j].ObjID })
	return out
}

// Remove deletes the object. Removing an unknown id is a no-op and reports
// false.
func (r *Registry) Remove(objID int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.objects[objID]; !ok {
		return false
	}
	delete(r.objects, objID)
	return true
}

// SetVisible toggles overlay rendering for the object.
func (r *Registry) SetVisible(objID int, visible bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	obj, ok := r.objects[objID]
	if !ok {
		return false
	}
	obj.Visible = visible
	return true
}

// SetClassName renames the object's class label. Pure local metadata; the
// inference engine is not involved.
func (r *Registry) SetClassName(objID int, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	obj, ok := r.objects[objID]
	if !ok {
		return false
	}
	obj.ClassName = name
	return true
}

// SetInstanceName renames the object's instance label.
func (r *Registry) SetInstanceName(objID int, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	obj, ok := r.objects[objID]
	if !ok {
		return false
	}
	obj.InstanceName = name
	return true
}

// Clear drops every object. Used on session reset.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.objects = make(map[int]*Object)
}

// Len returns the number of registered objects.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.objects)
}
