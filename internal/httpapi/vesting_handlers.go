package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"vestry.org/internal/addr"
	"vestry.org/internal/audit"
	"vestry.org/internal/obs"
	"vestry.org/internal/stream"
	"vestry.org/internal/vesting"
)

type createProgramRequest struct {
	CompanyName string `json:"company_name"`
	Mint        string `json:"mint"`
}

type allocateEmployeeRequest struct {
	Beneficiary string `json:"beneficiary"`
	TotalAmount uint64 `json:"total_amount"`
	StartTime   int64  `json:"start_time"`
	CliffTime   int64  `json:"cliff_time"`
	EndTime     int64  `json:"end_time"`
}

type claimRequest struct {
	CompanyName string `json:"company_name"`
}

// employeeView is the record plus the display-only projections clients
// render. The projections use the same formulas as the engine so display
// and entitlement never diverge.
type employeeView struct {
	vesting.EmployeeRecord
	VestedAmount    uint64    `json:"vested_amount"`
	ClaimableAmount uint64    `json:"claimable_amount"`
	ProgressPercent int       `json:"progress_percent"`
	AsOf            time.Time `json:"as_of"`
}

type listClaimsResponse struct {
	Items     []vesting.Claim `json:"items"`
	NextAfter uint64          `json:"next_after"`
	AsOf      time.Time       `json:"as_of"`
}

func (a *API) handleProgramsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createProgram(w, r)
	case http.MethodGet:
		a.listPrograms(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleProgramResource routes /v1/programs/{name} and the employee
// sub-resources below it.
func (a *API) handleProgramResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/programs/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	name, rest, hasRest := strings.Cut(path, "/")
	if name == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if !hasRest {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getProgram(w, r, name)
		return
	}

	sub, last, hasLast := strings.Cut(rest, "/")
	if sub != "employees" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if !hasLast {
		switch r.Method {
		case http.MethodPost:
			a.allocateEmployee(w, r, name)
		case http.MethodGet:
			a.listEmployees(w, r, name)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
		}
		return
	}
	if strings.Contains(last, "/") || last == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	a.getEmployee(w, r, name, last)
}

func (a *API) handleClaims(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.claim(w, r)
	case http.MethodGet:
		a.listClaims(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) createProgram(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOrError(w, r)
	if !ok {
		return
	}
	var req createProgramRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	mint, err := addr.Parse(strings.TrimSpace(req.Mint))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "mint must be a 64-char hex address")
		return
	}

	program, err := a.vesting.CreateProgram(r.Context(), principal.Address, mint, req.CompanyName)
	if err != nil {
		handleVestingError(w, r, err)
		return
	}

	obs.ProgramCreated()
	_ = audit.LogEvent(r.Context(), "vesting.program.create", map[string]string{
		"company": program.CompanyName,
		"program": program.Address.String(),
	})

	w.Header().Set("Location", "/v1/programs/"+program.CompanyName)
	writeJSON(w, http.StatusCreated, program)
}

func (a *API) getProgram(w http.ResponseWriter, r *http.Request, name string) {
	program, err := a.vesting.GetProgram(r.Context(), name)
	if err != nil {
		handleVestingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, program)
}

func (a *API) listPrograms(w http.ResponseWriter, r *http.Request) {
	programs, err := a.vesting.ListPrograms(r.Context())
	if err != nil {
		handleVestingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": programs})
}

func (a *API) allocateEmployee(w http.ResponseWriter, r *http.Request, name string) {
	principal, ok := principalOrError(w, r)
	if !ok {
		return
	}
	var req allocateEmployeeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	beneficiary, err := addr.Parse(strings.TrimSpace(req.Beneficiary))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "beneficiary must be a 64-char hex address")
		return
	}

	rec, err := a.vesting.AllocateEmployee(r.Context(), principal.Address, name, beneficiary,
		req.TotalAmount, req.StartTime, req.CliffTime, req.EndTime)
	if err != nil {
		handleVestingError(w, r, err)
		return
	}

	obs.EmployeeAllocated()
	_ = audit.LogEvent(r.Context(), "vesting.employee.allocate", map[string]string{
		"company":     name,
		"beneficiary": rec.Beneficiary.String(),
		"total":       strconv.FormatUint(rec.TotalAllocated, 10),
	})

	w.Header().Set("Location", "/v1/programs/"+name+"/employees/"+rec.Beneficiary.String())
	writeJSON(w, http.StatusCreated, rec)
}

func (a *API) getEmployee(w http.ResponseWriter, r *http.Request, name, beneficiaryHex string) {
	beneficiary, err := addr.Parse(beneficiaryHex)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "beneficiary must be a 64-char hex address")
		return
	}
	rec, err := a.vesting.GetEmployee(r.Context(), name, beneficiary)
	if err != nil {
		handleVestingError(w, r, err)
		return
	}
	view, err := buildEmployeeView(rec, time.Now().UTC())
	if err != nil {
		handleVestingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) listEmployees(w http.ResponseWriter, r *http.Request, name string) {
	recs, err := a.vesting.ListEmployees(r.Context(), name)
	if err != nil {
		handleVestingError(w, r, err)
		return
	}
	now := time.Now().UTC()
	views := make([]employeeView, 0, len(recs))
	for _, rec := range recs {
		view, err := buildEmployeeView(rec, now)
		if err != nil {
			handleVestingError(w, r, err)
			return
		}
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": views, "as_of": now})
}

func (a *API) claim(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOrError(w, r)
	if !ok {
		return
	}
	var req claimRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	claim, err := a.vesting.Claim(r.Context(), principal.Address, req.CompanyName)
	if err != nil {
		handleVestingError(w, r, err)
		return
	}

	obs.ClaimExecuted(claim.Amount)
	_ = audit.LogEvent(r.Context(), "vesting.claim", map[string]string{
		"company":     req.CompanyName,
		"beneficiary": claim.Beneficiary.String(),
		"amount":      strconv.FormatUint(claim.Amount, 10),
	})
	if a.claims != nil {
		a.claims.Publish(stream.ClaimEvent{
			Company:     req.CompanyName,
			Beneficiary: claim.Beneficiary.String(),
			Amount:      claim.Amount,
			Timestamp:   claim.ClaimedAt,
		})
	}

	writeJSON(w, http.StatusCreated, claim)
}

func (a *API) listClaims(w http.ResponseWriter, r *http.Request) {
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	afterParam := strings.TrimSpace(r.URL.Query().Get("after"))
	var after uint64
	if afterParam != "" {
		v, err := strconv.ParseUint(afterParam, 10, 64)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "after must be a non-negative integer")
			return
		}
		after = v
	}

	items, next, err := a.vesting.ListClaims(r.Context(), limit, after)
	if err != nil {
		handleVestingError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, listClaimsResponse{
		Items:     items,
		NextAfter: next,
		AsOf:      time.Now().UTC(),
	})
}

func buildEmployeeView(rec vesting.EmployeeRecord, now time.Time) (employeeView, error) {
	unix := now.Unix()
	vested, err := vesting.VestedAmount(rec, unix)
	if err != nil {
		return employeeView{}, err
	}
	claimable, err := vesting.ClaimableAmount(rec, unix)
	if err != nil {
		return employeeView{}, err
	}
	return employeeView{
		EmployeeRecord:  rec,
		VestedAmount:    vested,
		ClaimableAmount: claimable,
		ProgressPercent: vesting.ProgressPercent(rec, unix),
		AsOf:            now,
	}, nil
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("limit must be between 1 and 1000")
	}
	return val, nil
}

func handleVestingError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, vesting.ErrInvalidName),
		errors.Is(err, vesting.ErrInvalidSchedule),
		errors.Is(err, vesting.ErrInvalidAmount),
		errors.Is(err, addr.ErrInvalid):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, vesting.ErrUnauthorized):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, vesting.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, vesting.ErrAlreadyExists),
		errors.Is(err, vesting.ErrInsufficientFunds),
		errors.Is(err, vesting.ErrNothingToClaim):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, vesting.ErrArithmeticOverflow):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, vesting.ErrEscrowTransfer):
		writeError(w, r, http.StatusBadGateway, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
