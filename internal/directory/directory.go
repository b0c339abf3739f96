package directory

import (
	"context"
	"sync"

	"github.com/reshala/support-desk/internal/domain"
	"github.com/reshala/support-desk/internal/events"
	"github.com/reshala/support-desk/internal/profile"
)

// Entry is the cached routing state of one client's active ticket.
type Entry struct {
	Client   domain.ClientID
	Ticket   domain.TicketID
	Thread   domain.ThreadID
	Status   domain.TicketStatus
	HasProof bool
}

// Directory maps support topics to clients and back. It is a cache: the store
// stays authoritative.
type Directory struct {
	mu        sync.RWMutex
	chats     map[int64]struct{}
	byClient  map[domain.ClientID]Entry
	byThread  map[domain.ThreadID]domain.ClientID
	snapshots map[domain.ClientID]profile.Snapshot
}

// New creates a directory for the given support group.
func New(supportGroupID int64) *Directory {
	chats := make(map[int64]struct{})
	for _, id := range SupportChatIDs(supportGroupID) {
		chats[id] = struct{}{}
	}
	return &Directory{
		chats:     chats,
		byClient:  make(map[domain.ClientID]Entry),
		byThread:  make(map[domain.ThreadID]domain.ClientID),
		snapshots: make(map[domain.ClientID]profile.Snapshot),
	}
}

// SupportChatIDs returns the group id plus its supergroup form for legacy short ids.
func SupportChatIDs(groupID int64) []int64 {
	if groupID == 0 {
		return nil
	}
	ids := []int64{groupID}
	if groupID < 0 && groupID > -10_000_000_000 {
		full := -(1_000_000_000_000 + (-groupID))
		if full != groupID {
			ids = append(ids, full)
		}
	}
	return ids
}

// IsSupportChat reports whether chatID is the configured support group.
func (d *Directory) IsSupportChat(chatID int64) bool {
	_, ok := d.chats[chatID]
	return ok
}

// ResolveClient returns the entry owning the topic.
func (d *Directory) ResolveClient(chatID int64, thread domain.ThreadID) (Entry, bool) {
	if !d.IsSupportChat(chatID) {
		return Entry{}, false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	client, ok := d.byThread[thread]
	if !ok {
		return Entry{}, false
	}
	entry, ok := d.byClient[client]
	return entry, ok
}

// ResolveTopic returns the entry of a client's active ticket.
func (d *Directory) ResolveTopic(client domain.ClientID) (Entry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entry, ok := d.byClient[client]
	return entry, ok
}

// Put inserts or replaces the entry of a client.
func (d *Directory) Put(entry Entry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.putLocked(entry)
}

func (d *Directory) putLocked(entry Entry) {
	if old, ok := d.byClient[entry.Client]; ok && old.Thread != 0 && old.Thread != entry.Thread {
		delete(d.byThread, old.Thread)
	}
	if old, ok := d.byClient[entry.Client]; ok && old.Ticket == entry.Ticket {
		entry.HasProof = entry.HasProof || old.HasProof
	}
	d.byClient[entry.Client] = entry
	if entry.Thread != 0 {
		d.byThread[entry.Thread] = entry.Client
	}
}

// Forget drops every mapping of a client.
func (d *Directory) Forget(client domain.ClientID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if entry, ok := d.byClient[client]; ok && entry.Thread != 0 {
		if owner, ok := d.byThread[entry.Thread]; ok && owner == client {
			delete(d.byThread, entry.Thread)
		}
	}
	delete(d.byClient, client)
	delete(d.snapshots, client)
}

// MarkProof flags the client as having provided proof and reports whether this was the first time.
func (d *Directory) MarkProof(client domain.ClientID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.byClient[client]
	if !ok {
		d.byClient[client] = Entry{Client: client, HasProof: true}
		return true
	}
	if entry.HasProof {
		return false
	}
	entry.HasProof = true
	d.byClient[client] = entry
	return true
}

// HasProof reports whether the client has provided proof.
func (d *Directory) HasProof(client domain.ClientID) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.byClient[client].HasProof
}

// Snapshot returns the last profile snapshot shown on the client's card.
func (d *Directory) Snapshot(client domain.ClientID) (profile.Snapshot, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	snap, ok := d.snapshots[client]
	return snap, ok
}

// SetSnapshot remembers the profile snapshot of a client.
func (d *Directory) SetSnapshot(client domain.ClientID, snap profile.Snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.snapshots[client] = snap
}

// Len returns the number of tracked clients.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byClient)
}

// Subscribe keeps the directory in step with ticket lifecycle events.
func (d *Directory) Subscribe(dispatcher events.Dispatcher) {
	if dispatcher == nil {
		return
	}
	dispatcher.Subscribe(events.EventTicketOpened, d.handleUpsert)
	dispatcher.Subscribe(events.EventTicketTopicAttached, d.handleUpsert)
	dispatcher.Subscribe(events.EventTicketStatusChanged, d.handleUpsert)
	dispatcher.Subscribe(events.EventTicketProofReceived, d.handleProof)
	dispatcher.Subscribe(events.EventTicketClosed, d.handleForget)
	dispatcher.Subscribe(events.EventTicketRemoved, d.handleForget)
}

func (d *Directory) handleUpsert(_ context.Context, event events.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry, ok := d.byClient[event.ClientID]
	if !ok || entry.Ticket != event.TicketID {
		entry = Entry{Client: event.ClientID, Ticket: event.TicketID, HasProof: entry.HasProof && entry.Ticket == ""}
	}
	if event.TopicID != nil {
		entry.Thread = *event.TopicID
	}
	switch p := event.Payload.(type) {
	case events.TicketOpenedPayload:
		entry.Status = p.Status
	case events.TicketTopicAttachedPayload:
		entry.Status = p.Status
	case events.TicketStatusChangedPayload:
		entry.Status = p.NewStatus
	}
	d.putLocked(entry)
	return nil
}

func (d *Directory) handleProof(_ context.Context, event events.Event) error {
	d.MarkProof(event.ClientID)
	return nil
}

func (d *Directory) handleForget(_ context.Context, event events.Event) error {
	d.mu.RLock()
	entry, ok := d.byClient[event.ClientID]
	d.mu.RUnlock()
	if ok && entry.Ticket != "" && entry.Ticket != event.TicketID {
		return nil
	}
	d.Forget(event.ClientID)
	return nil
}
