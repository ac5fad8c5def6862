package documentmanifest

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/mag/gateway/internal/platform/fhir"
	"github.com/mag/gateway/internal/platform/xds"
	"github.com/mag/gateway/pkg/fhirmodels"
	"github.com/mag/gateway/pkg/pagination"
)

const searchBaseURL = "/fhir/DocumentManifest"

type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) RegisterRoutes(fhirGroup *echo.Group) {
	fhirGroup.GET("/DocumentManifest", h.SearchDocumentManifestsFHIR)
	fhirGroup.POST("/DocumentManifest", h.SearchDocumentManifestsFHIR)
	fhirGroup.POST("/DocumentManifest/_search", h.SearchDocumentManifestsFHIR)
}

// SearchDocumentManifestsFHIR serves ITI-66 Find Document Manifests.
func (h *Handler) SearchDocumentManifestsFHIR(c echo.Context) error {
	params := c.QueryParams()
	if c.Request().Method == http.MethodPost {
		form, err := c.FormParams()
		if err != nil {
			return c.JSON(http.StatusBadRequest, fhir.NewOperationOutcome(
				fhir.IssueSeverityError, fhir.IssueTypeInvalid, "invalid form body: "+err.Error()))
		}
		params = form
	}

	criteria, err := CriteriaFromQuery(params)
	if err != nil {
		var pe *ParameterError
		if errors.As(err, &pe) {
			outcome := fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeInvalid, pe.Error())
			outcome.Issue[0].Expression = []string{pe.Param}
			return c.JSON(http.StatusBadRequest, outcome)
		}
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome(err.Error()))
	}

	pg := pagination.FromValues(params)
	items, total, err := h.svc.Search(c.Request().Context(), criteria, pg.Limit, pg.Offset)
	if err != nil {
		return h.searchError(c, err)
	}

	return c.JSON(http.StatusOK, fhir.NewSearchBundle(items, fhir.SearchBundleParams{
		BaseURL:  searchBaseURL,
		QueryStr: filterQuery(params),
		Count:    pg.Limit,
		Offset:   pg.Offset,
		Total:    total,
	}))
}

func (h *Handler) searchError(c echo.Context, err error) error {
	var unsupported *xds.UnsupportedSearchError
	var missing *xds.MissingSchemeError
	switch {
	case errors.As(err, &unsupported):
		return c.JSON(http.StatusBadRequest, fhir.NotSupportedOutcome(err.Error()))
	case errors.As(err, &missing):
		return c.JSON(http.StatusBadRequest, fhir.RequiredFieldOutcome(fhirmodels.ParamPatientIdentifier, err.Error()))
	default:
		h.logger.Error().Err(err).Str("request_id", requestID(c)).Msg("document manifest search failed")
		return c.JSON(http.StatusInternalServerError, fhir.ErrorOutcome("registry query failed"))
	}
}

// filterQuery re-encodes the search parameters without paging controls so
// bundle links can append their own.
func filterQuery(params url.Values) string {
	out := url.Values{}
	for k, v := range params {
		if k == "_count" || k == "_offset" {
			continue
		}
		out[k] = v
	}
	return out.Encode()
}

func requestID(c echo.Context) string {
	if id, ok := c.Get("request_id").(string); ok {
		return id
	}
	return ""
}
