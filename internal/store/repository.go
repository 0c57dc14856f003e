package store

type Repository interface {
	Sessions() SessionStore
	Messages() MessageStore
	Tasks() TaskStore
	CapabilityServers() CapabilityServerStore
	Close() error
}
