package reflection

import (
	"runtime"
	"slices"
	"weak"

	"github.com/dop251/goja"
)

// ObjectID identifies a script object for the lifetime of the host. Ids are
// never reused, unlike addresses.
type ObjectID uint64

type entry struct {
	object    weak.Pointer[goja.Object]
	holders   []*Proxy // definitions that may hold listeners of the instance
	className string
	id        int32
}

// Directory tracks live instances. It maps script objects to their instance
// id and class, and instance ids back to the script object, without keeping
// either alive.
//
// Confined to the goroutine owning the host's runtime.
type Directory struct {
	host    *Host
	objects map[ObjectID]*entry
	ids     map[int32]ObjectID
	next    ObjectID
}

func newDirectory(h *Host) *Directory {
	return &Directory{
		host:    h,
		objects: make(map[ObjectID]*entry),
		ids:     make(map[int32]ObjectID),
	}
}

// register records a newly constructed instance.
func (d *Directory) register(obj *goja.Object, p *Proxy, id int32) ObjectID {
	className := p.canonical
	d.next++
	oid := d.next

	if prev, ok := d.ids[id]; ok {
		d.host.logger.Warning().
			Str("class", className).
			Int64("instance", int64(id)).
			Str("previous", d.objects[prev].className).
			Log("instance id reused while still live")
	}

	d.objects[oid] = &entry{
		object:    weak.Make(obj),
		holders:   []*Proxy{p},
		className: className,
		id:        id,
	}
	d.ids[id] = oid

	if notify := d.host.notify; notify != nil {
		logger := d.host.logger
		// must not capture obj
		runtime.AddCleanup(obj, func(oid ObjectID) {
			if err := notify(func() { d.Finalize(oid) }); err != nil {
				logger.Debug().
					Err(err).
					Uint64("object", uint64(oid)).
					Log("dropped instance finalization")
			}
		}, oid)
	}

	return oid
}

// holdsListeners records that p stores listeners of the live instance id.
func (d *Directory) holdsListeners(id int32, p *Proxy) {
	oid, ok := d.ids[id]
	if !ok {
		return
	}
	e := d.objects[oid]
	if !slices.Contains(e.holders, p) {
		e.holders = append(e.holders, p)
	}
}

// InstanceID returns the instance id of a script object, if it is a live
// instance.
func (d *Directory) InstanceID(obj *goja.Object) (int32, bool) {
	t, ok := d.Tag(obj)
	return t.InstanceID, ok
}

// Tag returns the tag of a script object, if it is a live instance.
func (d *Directory) Tag(obj *goja.Object) (Tag, bool) {
	d.host.mustBeConfined()
	if obj == nil {
		return Tag{}, false
	}
	handle, ok := exported[*instanceHandle](obj.Get(instanceTagKey))
	if !ok {
		return Tag{}, false
	}
	if _, live := d.objects[handle.in.tag.ObjectID]; !live {
		return Tag{}, false
	}
	return handle.in.tag, true
}

// ClassName returns the canonical class name of a live instance id.
func (d *Directory) ClassName(id int32) (string, bool) {
	d.host.mustBeConfined()
	oid, ok := d.ids[id]
	if !ok {
		return "", false
	}
	return d.objects[oid].className, true
}

// Object returns the script object of a live instance id.
func (d *Directory) Object(id int32) (*goja.Object, bool) {
	d.host.mustBeConfined()
	oid, ok := d.ids[id]
	if !ok {
		return nil, false
	}
	obj := d.objects[oid].object.Value()
	return obj, obj != nil
}

// Len returns the number of instances not yet finalized.
func (d *Directory) Len() int {
	return len(d.objects)
}

// Finalize removes the instance, drops its listeners and calls the class
// finalizer. Unknown or already finalized ids are ignored, so each instance is
// finalized at most once.
func (d *Directory) Finalize(oid ObjectID) {
	d.host.mustBeConfined()

	e, ok := d.objects[oid]
	if !ok {
		return
	}
	delete(d.objects, oid)
	if d.ids[e.id] == oid {
		delete(d.ids, e.id)
	}

	for _, holder := range e.holders {
		holder.dropListeners(e.id)
	}
	p, ok := d.host.registry.Lookup(e.className)
	if !ok {
		return
	}
	p.dropListeners(e.id)

	if b := d.host.logger.Debug(); b.Enabled() {
		b.Str("class", e.className).
			Int64("instance", int64(e.id)).
			Log("finalizing instance")
	}

	if p.finalizer != nil {
		p.finalizer(e.id)
	}
}

// FinalizeInstance finalizes the live instance with the given id.
func (d *Directory) FinalizeInstance(id int32) bool {
	d.host.mustBeConfined()
	oid, ok := d.ids[id]
	if ok {
		d.Finalize(oid)
	}
	return ok
}
