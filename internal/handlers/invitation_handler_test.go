package handlers

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/Jokecross/saasmoneyV2/internal/models"
	"github.com/Jokecross/saasmoneyV2/internal/packages"
	"github.com/Jokecross/saasmoneyV2/internal/services"
)

type stubInvitationService struct {
	generateErr error
	previewErr  error
	lastTier    string
	lastRole    string
	lastCode    string
}

func (s *stubInvitationService) GenerateCode(_ context.Context, issuerID int64, role string, tier string) (*services.InvitationView, error) {
	s.lastTier = tier
	s.lastRole = role
	if s.generateErr != nil {
		return nil, s.generateErr
	}
	return &services.InvitationView{
		InvitationCode: models.InvitationCode{Code: "SM-ABCD2345", IssuerID: issuerID, PackageTier: tier},
		Link:           "http://localhost:3000/auth/register?code=SM-ABCD2345",
	}, nil
}

func (s *stubInvitationService) Preview(_ context.Context, code string) (*services.InvitationView, error) {
	s.lastCode = code
	if s.previewErr != nil {
		return nil, s.previewErr
	}
	def, _ := packages.Lookup("3000")
	return &services.InvitationView{
		InvitationCode: models.InvitationCode{Code: code, IssuerID: 5, PackageTier: "3000"},
		Package:        def,
	}, nil
}

func (s *stubInvitationService) List(_ context.Context, _ int64, role string) ([]services.InvitationView, error) {
	s.lastRole = role
	return []services.InvitationView{}, nil
}

func TestGenerateInvitationReturnsLink(t *testing.T) {
	service := &stubInvitationService{}
	app := newTestApp("5", models.RoleCloser)
	app.Post("/invitations", NewInvitationHandler(service, discardLogger()).Generate)

	status, body := doJSON(t, app, http.MethodPost, "/invitations", `{"package_tier":"3000"}`)
	if status != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%v)", status, body)
	}
	invitation, ok := body["invitation"].(map[string]any)
	if !ok || invitation["link"] == "" {
		t.Fatalf("expected invitation with link, got %v", body)
	}
	if service.lastTier != "3000" {
		t.Fatalf("tier not forwarded")
	}
}

func TestGenerateInvitationRejectsUnknownTier(t *testing.T) {
	service := &stubInvitationService{generateErr: fmt.Errorf("%w: unknown package \"42\"", services.ErrInvalidInput)}
	app := newTestApp("5", models.RoleCloser)
	app.Post("/invitations", NewInvitationHandler(service, discardLogger()).Generate)

	status, _ := doJSON(t, app, http.MethodPost, "/invitations", `{"package_tier":"42"}`)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", status)
	}
}

func TestGenerateInvitationRejectsStudent(t *testing.T) {
	service := &stubInvitationService{}
	app := newTestApp("42", models.RoleStudent)
	app.Post("/invitations", NewInvitationHandler(service, discardLogger()).Generate)

	status, _ := doJSON(t, app, http.MethodPost, "/invitations", `{"package_tier":"3000"}`)
	if status != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", status)
	}
}

func TestPreviewHidesIssuer(t *testing.T) {
	service := &stubInvitationService{}
	app := newTestApp("", "")
	app.Get("/invitations/:code", NewInvitationHandler(service, discardLogger()).Preview)

	status, body := doJSON(t, app, http.MethodGet, "/invitations/SM-ABCD2345", "")
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if _, ok := body["issuer_id"]; ok {
		t.Fatalf("public preview must not expose the issuer")
	}
	if _, ok := body["package"]; !ok {
		t.Fatalf("expected package in preview")
	}
}

func TestPreviewUnknownCode(t *testing.T) {
	service := &stubInvitationService{previewErr: services.ErrInvitationNotFound}
	app := newTestApp("", "")
	app.Get("/invitations/:code", NewInvitationHandler(service, discardLogger()).Preview)

	status, _ := doJSON(t, app, http.MethodGet, "/invitations/SM-NOPE", "")
	if status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", status)
	}
}
