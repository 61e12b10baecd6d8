package main

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sunbirdmfi/microfin_backend/models"
	"github.com/sunbirdmfi/microfin_backend/models/reports"
	"github.com/sunbirdmfi/microfin_backend/utils"
)

func bindJSON[T any](c *gin.Context) (*T, bool) {
	var input T
	if err := c.ShouldBindJSON(&input); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
		} else {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		}
		return nil, false
	}
	return &input, true
}

func pathId(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func respondError(c *gin.Context, err error) {
	if errors.Is(err, utils.ErrorRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func queryIntPtr(c *gin.Context, name string) *int {
	if v := c.Query(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return &n
		}
	}
	return nil
}

func queryDatePtr(c *gin.Context, name string) *time.Time {
	if v := c.Query(name); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			return &t
		}
	}
	return nil
}

// --- metrics & snapshots ---

func recordMetricsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		events, ok := bindJSON[[]*models.NewMetricEvent](c)
		if !ok {
			return
		}
		rows, err := models.RecordMetrics(c.Request.Context(), *events)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, rows)
	}
}

func listMetricsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		filter := models.MetricFilter{
			BranchName:      c.Query("branch_name"),
			BranchCode:      c.Query("branch_code"),
			Currency:        c.Query("currency"),
			LoanOfficerName: c.Query("loan_officer_name"),
			LoanId:          queryIntPtr(c, "loan_id"),
			GroupId:         queryIntPtr(c, "group_id"),
			ClientId:        queryIntPtr(c, "client_id"),
			DateFrom:        queryDatePtr(c, "from"),
			DateTo:          queryDatePtr(c, "to"),
		}
		if name := c.Query("name"); name != "" {
			filter.Names = []string{name}
		}
		limit := 0
		if n := queryIntPtr(c, "limit"); n != nil {
			limit = *n
		}
		rows, err := models.ListMetrics(c.Request.Context(), filter, limit)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, rows)
	}
}

func listSnapshotsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		filter := models.SnapshotFilter{
			BranchName: c.Query("branch_name"),
			BranchCode: c.Query("branch_code"),
			Currency:   c.Query("currency"),
			StartDate:  queryDatePtr(c, "from"),
			EndDate:    queryDatePtr(c, "to"),
		}
		rows, err := models.ListSnapshots(c.Request.Context(), filter)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, rows)
	}
}

func getSnapshotHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		snapshot, err := models.GetSnapshotById(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, snapshot)
	}
}

func computeSnapshotHandler() gin.HandlerFunc {
	type computeRequest struct {
		BranchCode string `json:"branch_code"`
		BranchName string `json:"branch_name"`
		Currency   string `json:"currency"`
		Day        string `json:"day"`
	}
	return func(c *gin.Context) {
		req, ok := bindJSON[computeRequest](c)
		if !ok {
			return
		}
		day := time.Now()
		if req.Day != "" {
			parsed, err := time.Parse("2006-01-02", req.Day)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "day must be YYYY-MM-DD"})
				return
			}
			day = parsed
		}

		if req.BranchCode == "" {
			if err := models.ComputeDailySnapshots(c.Request.Context(), day); err != nil {
				respondError(c, err)
				return
			}
			c.Status(http.StatusNoContent)
			return
		}

		currency := models.CurrencyLRD
		if req.Currency != "" {
			parsed, err := models.ParseCurrency(req.Currency)
			if err != nil {
				respondError(c, err)
				return
			}
			currency = parsed
		}
		snapshot, err := models.ComputeDailySnapshot(c.Request.Context(), req.BranchCode, req.BranchName, day, currency)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, snapshot)
	}
}

// --- groups & clients ---

func createGroupHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		input, ok := bindJSON[models.NewGroup](c)
		if !ok {
			return
		}
		group, err := models.CreateGroup(c.Request.Context(), input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, group)
	}
}

func listGroupsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		groups, err := models.ListGroups(c.Request.Context(), c.Query("branch_code"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, groups)
	}
}

func registerClientHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		input, ok := bindJSON[models.NewClient](c)
		if !ok {
			return
		}
		client, err := models.RegisterClient(c.Request.Context(), input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, client)
	}
}

func listClientsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		clients, err := models.ListClients(c.Request.Context(), queryIntPtr(c, "group_id"), c.Query("branch_code"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, clients)
	}
}

// --- loans ---

func createLoanHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		input, ok := bindJSON[models.NewLoan](c)
		if !ok {
			return
		}
		loan, err := models.CreateLoan(c.Request.Context(), input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, loan)
	}
}

func listLoansHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		filter := models.LoanFilter{
			BranchName: c.Query("branch_name"),
			BranchCode: c.Query("branch_code"),
			Currency:   c.Query("currency"),
			Status:     c.Query("status"),
			GroupId:    queryIntPtr(c, "group_id"),
			ClientId:   queryIntPtr(c, "client_id"),
		}
		loans, err := models.ListLoans(c.Request.Context(), filter)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, loans)
	}
}

func getLoanHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		loan, err := models.GetLoanById(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, loan)
	}
}

func setLoanStatusHandler() gin.HandlerFunc {
	type statusRequest struct {
		Status string `json:"status" binding:"required"`
	}
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		req, ok := bindJSON[statusRequest](c)
		if !ok {
			return
		}
		loan, err := models.SetLoanStatus(c.Request.Context(), id, models.LoanStatus(req.Status))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, loan)
	}
}

func addCollectionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		inputs, ok := bindJSON[[]*models.NewLoanCollection](c)
		if !ok {
			return
		}
		loan, err := models.AddCollections(c.Request.Context(), id, *inputs)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, loan)
	}
}

// --- savings ---

func createSavingsAccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		input, ok := bindJSON[models.NewSavingsAccount](c)
		if !ok {
			return
		}
		account, err := models.CreateSavingsAccount(c.Request.Context(), input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, account)
	}
}

func listSavingsAccountsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accounts, err := models.ListSavingsAccounts(c.Request.Context(), queryIntPtr(c, "group_id"), c.Query("branch_code"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, accounts)
	}
}

func addSavingsTransactionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		input, ok := bindJSON[models.NewSavingsTransaction](c)
		if !ok {
			return
		}
		txn, err := models.AddSavingsTransaction(c.Request.Context(), id, input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, txn)
	}
}

// --- expenses ---

func createExpenseHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		input, ok := bindJSON[models.NewExpense](c)
		if !ok {
			return
		}
		expense, err := models.CreateExpense(c.Request.Context(), input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, expense)
	}
}

func listExpensesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		expenses, err := models.ListExpenses(c.Request.Context(), c.Query("branch_code"), c.Query("status"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, expenses)
	}
}

func approveExpenseHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		expense, err := models.ApproveExpense(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, expense)
	}
}

func rejectExpenseHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		expense, err := models.RejectExpense(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, expense)
	}
}

// --- distributions, branch data, bank deposits ---

func createDistributionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		input, ok := bindJSON[models.NewDistribution](c)
		if !ok {
			return
		}
		distribution, err := models.CreateDistribution(c.Request.Context(), input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, distribution)
	}
}

func listDistributionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := models.ListDistributions(c.Request.Context(), queryIntPtr(c, "loan_id"), c.Query("branch_code"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, rows)
	}
}

func createBranchDataHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		input, ok := bindJSON[models.NewBranchData](c)
		if !ok {
			return
		}
		record, err := models.CreateBranchData(c.Request.Context(), input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, record)
	}
}

func updateBranchDataHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		input, ok := bindJSON[models.NewBranchData](c)
		if !ok {
			return
		}
		record, err := models.UpdateBranchData(c.Request.Context(), id, input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, record)
	}
}

func approveBranchDataHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		record, err := models.ApproveBranchData(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, record)
	}
}

func listBranchDataHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := models.ListBranchData(c.Request.Context(), c.Query("branch_code"), c.Query("status"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, rows)
	}
}

func createBankDepositHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		input, ok := bindJSON[models.NewBankDeposit](c)
		if !ok {
			return
		}
		deposit, err := models.CreateBankDeposit(c.Request.Context(), input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, deposit)
	}
}

func listBankDepositsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := models.ListBankDeposits(c.Request.Context(), c.Query("branch_code"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, rows)
	}
}

// --- reports ---

func summarizeMetricsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		input, ok := bindJSON[reports.SummarizeMetricsInput](c)
		if !ok {
			return
		}
		rows, err := reports.SummarizeMetrics(c.Request.Context(), *input)
		if err != nil {
			respondError(c, err)
			return
		}
		if c.Query("format") == "xlsx" {
			f, err := reports.BuildMetricSummaryWorkbook(rows)
			if err != nil {
				respondError(c, err)
				return
			}
			if err := reports.WriteExcel(c.Writer, f, "metric-summary.xlsx"); err != nil {
				c.Status(http.StatusInternalServerError)
			}
			return
		}
		c.JSON(http.StatusOK, rows)
	}
}

func profitSummaryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		input, ok := bindJSON[reports.ProfitSummaryInput](c)
		if !ok {
			return
		}
		rows, err := reports.GetProfitSummary(c.Request.Context(), *input)
		if err != nil {
			respondError(c, err)
			return
		}
		if c.Query("format") == "xlsx" {
			f, err := reports.BuildProfitSummaryWorkbook(rows)
			if err != nil {
				respondError(c, err)
				return
			}
			if err := reports.WriteExcel(c.Writer, f, "profit-summary.xlsx"); err != nil {
				c.Status(http.StatusInternalServerError)
			}
			return
		}
		c.JSON(http.StatusOK, rows)
	}
}
