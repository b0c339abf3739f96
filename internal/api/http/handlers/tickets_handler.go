package handlers

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/reshala/support-desk/internal/api/dto"
	"github.com/reshala/support-desk/internal/auth"
	"github.com/reshala/support-desk/internal/domain"
	"github.com/reshala/support-desk/internal/events"
	"github.com/reshala/support-desk/internal/service"
	apperrors "github.com/reshala/support-desk/pkg/errorutil"
)

// TicketsHandler serves the Mini App ticket queues and actions.
type TicketsHandler struct {
	service *service.TicketService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(ticketService *service.TicketService) *TicketsHandler {
	return &TicketsHandler{service: ticketService}
}

// Active GET /api/tickets/active.
func (h *TicketsHandler) Active(c *fiber.Ctx) error { return h.list(c, service.ListActive) }

// Escalated GET /api/tickets/escalated.
func (h *TicketsHandler) Escalated(c *fiber.Ctx) error { return h.list(c, service.ListEscalated) }

// Suspicious GET /api/tickets/suspicious.
func (h *TicketsHandler) Suspicious(c *fiber.Ctx) error { return h.list(c, service.ListSuspicious) }

func (h *TicketsHandler) list(c *fiber.Ctx, kind service.ListKind) error {
	tickets, err := h.service.List(c.UserContext(), kind)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ok": true, "tickets": dto.NewTicketList(tickets)})
}

// ByClient GET /api/tickets/by-client/:client_id.
func (h *TicketsHandler) ByClient(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("client_id"), 10, 64)
	if err != nil || id <= 0 {
		return apperrors.NewValidationError("client_id must be a positive integer", nil)
	}
	ticket, err := h.service.ResolveRef(c.UserContext(), domain.ByClient(domain.ClientID(id)))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ok": true, "ticket": dto.NewTicketResponse(ticket)})
}

// GetTicket GET /api/tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	ticket, err := h.service.Get(c.UserContext(), domain.TicketID(c.Params("id")))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ok": true, "ticket": dto.NewTicketResponse(ticket)})
}

// Audit GET /api/tickets/:id/audit.
func (h *TicketsHandler) Audit(c *fiber.Ctx) error {
	entries, err := h.service.Audit(c.UserContext(), domain.TicketID(c.Params("id")))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ok": true, "audit": dto.NewAuditList(entries)})
}

// CreateTicket POST /api/tickets/create. Repeating the call returns the active ticket.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, created, err := h.service.Create(c.UserContext(), service.CreateInput{
		ClientID:       domain.ClientID(req.ClientID),
		ClientName:     req.ClientName,
		ClientUsername: req.ClientUsername,
		IsSuspicious:   req.IsSuspicious,
		Reason:         req.Reason,
		UserData:       req.UserData,
	})
	if err != nil {
		return err
	}
	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(fiber.Map{
		"ok":        true,
		"ticket_id": string(ticket.ID),
		"status":    ticket.Status,
		"created":   created,
	})
}

// Reply POST /api/tickets/:id/reply.
func (h *TicketsHandler) Reply(c *fiber.Ctx) error {
	ref, err := ticketRef(c)
	if err != nil {
		return err
	}
	var req dto.ReplyRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	name := strings.TrimSpace(req.ManagerName)
	if name == "" {
		name = actorOf(c).Name
	}
	entry, err := h.service.Reply(c.UserContext(), ref, service.ManagerReply{Name: name, Text: req.Message})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ok": true, "message": "Ответ отправлен клиенту в Telegram", "sent_at": entry.CreatedAt})
}

// Close POST /api/tickets/:id/close.
func (h *TicketsHandler) Close(c *fiber.Ctx) error {
	ref, err := ticketRef(c)
	if err != nil {
		return err
	}
	res, err := h.service.Close(c.UserContext(), ref, service.Closer{Kind: service.CloserManager, Name: actorOf(c).Name})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"ok":             true,
		"message":        "Тикет закрыт",
		"already_closed": res.AlreadyClosed,
		"retained":       res.Retained,
	})
}

// Remove POST /api/tickets/:id/remove.
func (h *TicketsHandler) Remove(c *fiber.Ctx) error {
	ref, err := ticketRef(c)
	if err != nil {
		return err
	}
	_, changed, err := h.service.Remove(c.UserContext(), ref, actorOf(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ok": true, "message": "Тикет удалён из списка", "changed": changed})
}

// Escalate POST /api/tickets/:id/escalate. API escalations always count as a manager decision.
func (h *TicketsHandler) Escalate(c *fiber.Ctx) error {
	ref, err := ticketRef(c)
	if err != nil {
		return err
	}
	req := parseReason(c)
	actor := actorOf(c)
	ticket, err := h.service.Escalate(c.UserContext(), ref, service.EscalationInput{
		Source: events.SourceManager,
		Name:   actor.Name,
		Reason: req.Reason,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ok": true, "message": "Тикет эскалирован", "ticket": dto.NewTicketResponse(ticket)})
}

// MarkSuspicious POST /api/tickets/:id/mark-suspicious.
func (h *TicketsHandler) MarkSuspicious(c *fiber.Ctx) error {
	ref, err := ticketRef(c)
	if err != nil {
		return err
	}
	req := parseReason(c)
	ticket, err := h.service.MarkSuspicious(c.UserContext(), ref, req.Reason, actorOf(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ok": true, "message": "Тикет помечен как подозрительный", "ticket": dto.NewTicketResponse(ticket)})
}

// AddAttachment POST /api/tickets/:id/add-attachment.
func (h *TicketsHandler) AddAttachment(c *fiber.Ctx) error {
	ref, err := ticketRef(c)
	if err != nil {
		return err
	}
	var req dto.AttachmentRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	value := strings.TrimSpace(req.Value)
	if value == "" {
		value = strings.TrimSpace(req.URL)
	}
	switch req.Type {
	case domain.AttachmentPhoto, domain.AttachmentSubscriptionLink, domain.AttachmentDocument:
	default:
		return apperrors.NewValidationError("type must be photo, subscription_link or document", nil)
	}
	if value == "" {
		return apperrors.NewValidationError("type and value required", nil)
	}
	count, err := h.service.AddAttachment(c.UserContext(), ref, domain.Attachment{Type: req.Type, Value: value})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ok": true, "message": "Вложение добавлено", "attachments": count})
}

// SetAI POST /api/tickets/:id/ai.
func (h *TicketsHandler) SetAI(c *fiber.Ctx) error {
	ref, err := ticketRef(c)
	if err != nil {
		return err
	}
	var req dto.AIToggleRequest
	if err := c.BodyParser(&req); err != nil || req.Disabled == nil {
		return apperrors.NewValidationError("disabled flag required", nil)
	}
	ticket, err := h.service.SetAIDisabled(c.UserContext(), ref, *req.Disabled, actorOf(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ok": true, "ai_disabled": ticket.AIDisabled})
}

// ticketRef reads the :id route parameter. Malformed ids address no ticket.
func ticketRef(c *fiber.Ctx) (domain.TicketRef, error) {
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		return domain.TicketRef{}, service.ErrTicketNotFound
	}
	return domain.ByTicket(domain.TicketID(id)), nil
}

func parseReason(c *fiber.Ctx) dto.ReasonRequest {
	var req dto.ReasonRequest
	if len(c.Body()) > 0 {
		_ = c.BodyParser(&req)
	}
	req.Reason = strings.TrimSpace(req.Reason)
	return req
}

func actorOf(c *fiber.Ctx) events.Actor {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return events.Actor{Source: events.SourceSystem}
	}
	if principal.SubjectType == domain.SubjectTypeService {
		return events.Actor{Source: events.SourceSystem, Name: principal.Actor()}
	}
	id := principal.Manager.TelegramID
	return events.Actor{Source: events.SourceManager, ManagerID: &id, Name: principal.Actor()}
}
