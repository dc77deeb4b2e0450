package workflow

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/frontdesk/internal/domain/patient"
	"github.com/ehr/frontdesk/internal/platform/auth"
	"github.com/ehr/frontdesk/pkg/money"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	front := api.Group("", auth.RequireRole(auth.RoleRegistrar))
	front.POST("/registrations", h.RegisterPatient)
	front.POST("/patients/:id/episodes", h.OpenEpisode)
	front.POST("/episodes/:number/queue", h.AddToQueue)

	cashier := api.Group("", auth.RequireRole(auth.RoleCashier))
	cashier.POST("/episodes/:number/payments", h.PayConsultationFee)

	clinical := api.Group("", auth.RequireRole(auth.RolePhysician))
	clinical.POST("/episodes/:number/consultation", h.StartConsultation)
	clinical.POST("/episodes/:number/services", h.AddService)
	clinical.POST("/episodes/:number/complete", h.CompleteEpisode)

	read := api.Group("", auth.RequireRole(auth.RoleRegistrar, auth.RoleCashier, auth.RolePhysician, auth.RoleNurse))
	read.GET("/patients/:id/episodes", h.ListPatientEpisodes)
	read.GET("/patients/:id/workflow", h.GetPatientWorkflow)
	read.GET("/episodes/:number", h.GetEpisode)
	read.GET("/episodes/:number/billing", h.ListEpisodeBilling)
	read.GET("/queue", h.ListQueue)
}

// -- Request types --

type registerRequest struct {
	patient.CreateRequest
	EncounterType string `json:"encounter_type" validate:"required,oneof=outpatient inpatient emergency"`
}

type openEpisodeRequest struct {
	EncounterType string `json:"encounter_type" validate:"required,oneof=outpatient inpatient emergency"`
}

type paymentRequest struct {
	PaymentMethod        string  `json:"payment_method" validate:"required,oneof=cash card mobile-money insurance bank-transfer"`
	TransactionReference *string `json:"transaction_reference" validate:"omitempty,max=128"`
}

type consultationRequest struct {
	ClinicianID string `json:"clinician_id" validate:"required,max=64"`
}

type serviceRequest struct {
	Kind         string `json:"kind" validate:"required,oneof=lab-test prescription radiology"`
	Name         string `json:"name" validate:"required,max=200"`
	Instructions string `json:"instructions" validate:"max=500"`
	Cost         string `json:"cost" validate:"omitempty,money"`
}

type completeRequest struct {
	Notes *string `json:"notes"`
}

// -- Handlers --

func (h *Handler) RegisterPatient(c echo.Context) error {
	var req registerRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	res, err := h.svc.RegisterPatient(c.Request().Context(), RegisterRequest{
		Patient: req.CreateRequest.ToPatient(),
		Type:    EncounterType(req.EncounterType),
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) OpenEpisode(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	var req openEpisodeRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	res, err := h.svc.OpenEpisode(c.Request().Context(), patientID, EncounterType(req.EncounterType))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) PayConsultationFee(c echo.Context) error {
	var req paymentRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	res, err := h.svc.PayConsultationFee(c.Request().Context(), c.Param("number"), PaymentRequest{
		Method:               req.PaymentMethod,
		TransactionReference: req.TransactionReference,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) AddToQueue(c echo.Context) error {
	res, err := h.svc.AddToQueue(c.Request().Context(), c.Param("number"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) StartConsultation(c echo.Context) error {
	var req consultationRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	res, err := h.svc.StartConsultation(c.Request().Context(), c.Param("number"), req.ClinicianID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) AddService(c echo.Context) error {
	var req serviceRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	var cost *money.Money
	if req.Cost != "" {
		m, err := money.Parse(req.Cost)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		cost = &m
	}
	order, err := NewServiceOrder(ServiceKind(req.Kind), req.Name, req.Instructions, cost)
	if err != nil {
		return httpError(err)
	}
	res, err := h.svc.AddService(c.Request().Context(), c.Param("number"), order)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) CompleteEpisode(c echo.Context) error {
	var req completeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.CompleteEpisode(c.Request().Context(), c.Param("number"), req.Notes)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) GetPatientWorkflow(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	wf, err := h.svc.GetPatientWorkflow(c.Request().Context(), patientID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, wf)
}

func (h *Handler) ListPatientEpisodes(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	items, err := h.svc.ListPatientEpisodes(c.Request().Context(), patientID)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Episode{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) GetEpisode(c echo.Context) error {
	ep, err := h.svc.GetEpisode(c.Request().Context(), c.Param("number"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ep)
}

func (h *Handler) ListEpisodeBilling(c echo.Context) error {
	res, err := h.svc.ListEpisodeBilling(c.Request().Context(), c.Param("number"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) ListQueue(c echo.Context) error {
	items, err := h.svc.ListQueue(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*QueueEntry{}
	}
	return c.JSON(http.StatusOK, items)
}

func bindAndValidate(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.Validate(req)
}

// httpError maps workflow failures onto status codes; the message is the
// error text unchanged.
func httpError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, ErrEpisodeNotFound), errors.Is(err, patient.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrFeeNotPaid), errors.Is(err, ErrFeeAlreadyPaid),
		errors.Is(err, ErrEpisodeClosed), errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrActiveEpisodeExists), errors.Is(err, ErrServiceNotSupported),
		errors.Is(err, ErrDuplicateEpisode), errors.Is(err, ErrConcurrentModification),
		errors.Is(err, patient.ErrDuplicateMRN):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidInput), errors.Is(err, patient.ErrInvalid):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
