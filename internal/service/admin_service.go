package service

import (
	"context"
	"strings"

	"github.com/velomotors/be-capital-ledger/internal/apperrors"
	"github.com/velomotors/be-capital-ledger/internal/logger"
	"github.com/velomotors/be-capital-ledger/internal/repository"
)

// AdminService manages the admin directory referenced by group membership.
type AdminService struct {
	admins AdminDirectory
	log    *logger.Logger
}

// NewAdminService creates a new AdminService.
func NewAdminService(admins AdminDirectory, log *logger.Logger) *AdminService {
	return &AdminService{admins: admins, log: log}
}

// CreateAdminRequest onboards a new admin.
type CreateAdminRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Create validates and persists a new admin.
func (s *AdminService) Create(ctx context.Context, req *CreateAdminRequest) (*repository.Admin, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperrors.InvalidInput("name", "admin name is required")
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, apperrors.InvalidInput("email", "a valid email is required")
	}

	admin := &repository.Admin{Name: name, Email: email, Status: "active"}
	if err := s.admins.Create(ctx, admin); err != nil {
		return nil, err
	}

	s.log.Info().Str("admin_id", admin.ID).Msg("Admin created")
	return admin, nil
}

// Get retrieves an admin.
func (s *AdminService) Get(ctx context.Context, id string) (*repository.Admin, error) {
	return s.admins.GetByID(ctx, id)
}

// List returns all admins.
func (s *AdminService) List(ctx context.Context) ([]*repository.Admin, error) {
	return s.admins.List(ctx)
}
