// Package dom is an in-memory model of a feed page: an ordered container of
// item nodes that the host may detach, recreate, reorder or hide at any time.
// It backs snapshot replays and lets the engine run without a browser.
package dom

import (
	"sync"

	"FeedGuard/internal/domain"
)

// NodeSpec describes a node to insert into a document.
type NodeSpec struct {
	ID           string
	Group        string
	Fields       map[string]string
	Interstitial bool
	Offscreen    bool
}

// Node is one rendered feed entry.
type Node struct {
	doc  *Document
	key  uint64
	spec NodeSpec

	// guarded by doc.mu
	attached bool
	hidden   bool
	badge    *domain.Decision
	blur     domain.BlurKind
}

var _ domain.NodeHandle = (*Node)(nil)

// Attached reports whether the node is still part of its document.
func (n *Node) Attached() bool {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	return n.attached
}

// ItemID returns the item id this node renders.
func (n *Node) ItemID() string {
	return n.spec.ID
}

// Key is unique per node instance; recreated nodes get a new key.
func (n *Node) Key() uint64 {
	return n.key
}

// Badge returns the decision last rendered as a badge.
func (n *Node) Badge() (domain.Decision, bool) {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	if n.badge == nil {
		return domain.Decision{}, false
	}
	return *n.badge, true
}

// Blur returns the overlay state of the node.
func (n *Node) Blur() domain.BlurKind {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	if n.blur == "" {
		return domain.BlurNone
	}
	return n.blur
}

// Hidden reports whether a reorder hid this node.
func (n *Node) Hidden() bool {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	return n.hidden
}

type listener struct {
	onChange   func()
	onNavigate func(url string)
}

// Document holds one feed container.
type Document struct {
	mu          sync.Mutex
	url         string
	reorderable bool
	nodes       []*Node
	seq         uint64
	listeners   map[uint64]listener
	nextListen  uint64
}

// NewDocument creates an empty document at url.
func NewDocument(url string) *Document {
	return &Document{url: url, listeners: map[uint64]listener{}}
}

// URL returns the current page address.
func (d *Document) URL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url
}

// SetReorderable marks whether nodes may be physically moved.
func (d *Document) SetReorderable(v bool) {
	d.mu.Lock()
	d.reorderable = v
	d.mu.Unlock()
}

// Reorderable reports whether nodes may be physically moved.
func (d *Document) Reorderable() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reorderable
}

// Append adds nodes at the end of the container, as infinite scroll does.
func (d *Document) Append(specs ...NodeSpec) []*Node {
	d.mu.Lock()
	added := make([]*Node, 0, len(specs))
	for _, spec := range specs {
		n := d.newNodeLocked(spec)
		d.nodes = append(d.nodes, n)
		added = append(added, n)
	}
	d.mu.Unlock()
	d.emitChange()
	return added
}

// Recreate replaces the node rendering id with a fresh, undecorated node at the
// same position, as virtualized feeds do when an item scrolls back into view.
func (d *Document) Recreate(id string) (*Node, bool) {
	d.mu.Lock()
	idx := d.indexLocked(id)
	if idx < 0 {
		d.mu.Unlock()
		return nil, false
	}
	old := d.nodes[idx]
	old.attached = false
	n := d.newNodeLocked(old.spec)
	n.hidden = old.hidden
	d.nodes[idx] = n
	d.mu.Unlock()
	d.emitChange()
	return n, true
}

// Remove detaches the node rendering id.
func (d *Document) Remove(id string) bool {
	d.mu.Lock()
	idx := d.indexLocked(id)
	if idx < 0 {
		d.mu.Unlock()
		return false
	}
	d.nodes[idx].attached = false
	d.nodes = append(d.nodes[:idx], d.nodes[idx+1:]...)
	d.mu.Unlock()
	d.emitChange()
	return true
}

// Navigate swaps the page: every node is detached and replaced by specs.
func (d *Document) Navigate(url string, specs ...NodeSpec) {
	d.mu.Lock()
	for _, n := range d.nodes {
		n.attached = false
	}
	d.url = url
	d.nodes = nil
	for _, spec := range specs {
		d.nodes = append(d.nodes, d.newNodeLocked(spec))
	}
	d.mu.Unlock()
	d.emitNavigate(url)
}

// Nodes returns the attached nodes in container order.
func (d *Document) Nodes() []*Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Node, len(d.nodes))
	copy(out, d.nodes)
	return out
}

// Find returns the attached node rendering id.
func (d *Document) Find(id string) *Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	if idx := d.indexLocked(id); idx >= 0 {
		return d.nodes[idx]
	}
	return nil
}

// Order returns the ids of visible nodes in container order.
func (d *Document) Order() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var ids []string
	for _, n := range d.nodes {
		if !n.hidden {
			ids = append(ids, n.spec.ID)
		}
	}
	return ids
}

func (d *Document) newNodeLocked(spec NodeSpec) *Node {
	d.seq++
	return &Node{doc: d, key: d.seq, spec: spec, attached: true, blur: domain.BlurNone}
}

func (d *Document) indexLocked(id string) int {
	for i, n := range d.nodes {
		if n.spec.ID == id {
			return i
		}
	}
	return -1
}

func (d *Document) subscribe(l listener) func() {
	d.mu.Lock()
	d.nextListen++
	id := d.nextListen
	d.listeners[id] = l
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		delete(d.listeners, id)
		d.mu.Unlock()
	}
}

func (d *Document) snapshotListeners() []listener {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]listener, 0, len(d.listeners))
	for _, l := range d.listeners {
		out = append(out, l)
	}
	return out
}

func (d *Document) emitChange() {
	for _, l := range d.snapshotListeners() {
		if l.onChange != nil {
			l.onChange()
		}
	}
}

func (d *Document) emitNavigate(url string) {
	for _, l := range d.snapshotListeners() {
		if l.onNavigate != nil {
			l.onNavigate(url)
		}
	}
}
