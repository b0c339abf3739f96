package repository

import "errors"

var (
	// ErrNotFound is returned when no row matches the lookup.
	ErrNotFound = errors.New("not found")
	// ErrActiveTicketExists is returned when a client already has a non-closed, non-removed ticket.
	ErrActiveTicketExists = errors.New("client already has an active ticket")
	// ErrStatusMismatch is returned when a conditional update finds the ticket in an unexpected status.
	ErrStatusMismatch = errors.New("ticket status does not match")
)
