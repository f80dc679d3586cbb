package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/budgets_backend/config"
	"github.com/mmdatafocus/budgets_backend/middlewares"
	"github.com/mmdatafocus/budgets_backend/models"
	"github.com/mmdatafocus/budgets_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const defaultPort = "8080"

var tracer = otel.Tracer("budgets-backend")

// tracingMiddleware opens one span per request so handler work nests
// under it, alongside the spans otelgorm emits per query.
func tracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Request.Method + " " + c.FullPath()
		if c.FullPath() == "" {
			name = c.Request.Method + " " + c.Request.URL.Path
		}
		spanCtx, span := tracer.Start(c.Request.Context(), name)
		defer span.End()
		c.Request = c.Request.WithContext(spanCtx)
		c.Next()
		span.SetAttributes(attribute.Int("http.status_code", c.Writer.Status()))
	}
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func paramInt(c *gin.Context, name string) (int, bool) {
	value, err := strconv.Atoi(c.Param(name))
	if err != nil || value <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be a positive integer"})
		return 0, false
	}
	return value, true
}

func requireUser(c *gin.Context) bool {
	if _, ok := utils.GetUserIdFromContext(c.Request.Context()); !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return false
	}
	return true
}

func apiError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, utils.ErrorRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrorConcurrentDeletion):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrorStructuralIntegrity), errors.Is(err, models.ErrorOrderKey):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

/* budget roots */

func listBudgetsHandler(domain models.BudgetDomain) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireUser(c) {
			return
		}
		rows, err := models.GetBudgets(c.Request.Context(), domain)
		if err != nil {
			apiError(c, err)
			return
		}
		c.JSON(http.StatusOK, rows)
	}
}

func createBudgetHandler(domain models.BudgetDomain) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireUser(c) {
			return
		}
		var input models.NewBudget
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		var budget *models.Budget
		var err error
		if domain == models.DomainTemplate {
			budget, err = models.CreateTemplate(c.Request.Context(), &input)
		} else {
			budget, err = models.CreateBudget(c.Request.Context(), &input)
		}
		if err != nil {
			apiError(c, err)
			return
		}
		c.JSON(http.StatusCreated, budget)
	}
}

func getBudgetHandler(c *gin.Context) {
	if !requireUser(c) {
		return
	}
	id, ok := paramInt(c, "id")
	if !ok {
		return
	}
	budget, err := models.GetBudget(c.Request.Context(), id)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, budget)
}

func updateBudgetHandler(c *gin.Context) {
	if !requireUser(c) {
		return
	}
	id, ok := paramInt(c, "id")
	if !ok {
		return
	}
	var input models.NewBudget
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	budget, err := models.UpdateBudget(c.Request.Context(), id, &input)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, budget)
}

func trashBudgetHandler(c *gin.Context) {
	if !requireUser(c) {
		return
	}
	id, ok := paramInt(c, "id")
	if !ok {
		return
	}
	budget, err := models.TrashBudget(c.Request.Context(), id)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, budget)
}

func restoreBudgetHandler(c *gin.Context) {
	if !requireUser(c) {
		return
	}
	id, ok := paramInt(c, "id")
	if !ok {
		return
	}
	budget, err := models.RestoreBudget(c.Request.Context(), id)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, budget)
}

func trashedBudgetsHandler(c *gin.Context) {
	if !requireUser(c) {
		return
	}
	rows, err := models.GetTrashedBudgets(c.Request.Context())
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func deleteBudgetHandler(c *gin.Context) {
	if !requireUser(c) {
		return
	}
	id, ok := paramInt(c, "id")
	if !ok {
		return
	}
	if _, err := models.PermanentlyDeleteBudget(c.Request.Context(), id); err != nil {
		apiError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func duplicateBudgetHandler(c *gin.Context) {
	if !requireUser(c) {
		return
	}
	id, ok := paramInt(c, "id")
	if !ok {
		return
	}
	budget, err := models.DuplicateBudget(c.Request.Context(), id)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusCreated, budget)
}

func deriveBudgetHandler(c *gin.Context) {
	if !requireUser(c) {
		return
	}
	id, ok := paramInt(c, "id")
	if !ok {
		return
	}
	budget, err := models.DeriveBudget(c.Request.Context(), id)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusCreated, budget)
}

func exportBudgetHandler(c *gin.Context) {
	if !requireUser(c) {
		return
	}
	id, ok := paramInt(c, "id")
	if !ok {
		return
	}
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", "attachment; filename=budget.xlsx")
	if err := models.ExportBudgetXlsx(c.Request.Context(), id, c.Writer); err != nil {
		apiError(c, err)
	}
}

/* accounts */

func listAccountsHandler(c *gin.Context) {
	if !requireUser(c) {
		return
	}
	budgetId, ok := paramInt(c, "id")
	if !ok {
		return
	}
	withGroups := c.Query("grouped") == "true"
	search := c.Query("search")
	endpoint := "accounts"
	if withGroups {
		endpoint = "accounts:grouped"
	}
	ctx := c.Request.Context()
	rows, err := models.GetOrComputeCachedResponse(ctx, endpoint, models.BudgetInstanceRef(budgetId), search, func() ([]*models.Account, error) {
		return models.GetAccounts(ctx, budgetId, withGroups, search)
	})
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func createAccountsHandler(c *gin.Context) {
	if !requireUser(c) {
		return
	}
	budgetId, ok := paramInt(c, "id")
	if !ok {
		return
	}
	var inputs []*models.NewAccount
	if err := c.ShouldBindJSON(&inputs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rows, err := models.BulkCreateAccounts(c.Request.Context(), budgetId, inputs)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rows)
}

func updateAccountHandler(c *gin.Context) {
	if !requireUser(c) {
		return
	}
	id, ok := paramInt(c, "id")
	if !ok {
		return
	}
	var input models.NewAccount
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	account, err := models.UpdateAccount(c.Request.Context(), id, &input)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

func deleteAccountHandler(c *gin.Context) {
	if !requireUser(c) {
		return
	}
	id, ok := paramInt(c, "id")
	if !ok {
		return
	}
	if _, err := models.DeleteAccount(c.Request.Context(), id); err != nil {
		apiError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func bulkDeleteAccountsHandler(c *gin.Context) {
	if !requireUser(c) {
		return
	}
	budgetId, ok := paramInt(c, "id")
	if !ok {
		return
	}
	var req struct {
		Ids []int `json:"ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := models.BulkDeleteAccounts(c.Request.Context(), budgetId, req.Ids); err != nil {
		apiError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func nextAccountIdentifierHandler(c *gin.Context) {
	if !requireUser(c) {
		return
	}
	budgetId, ok := paramInt(c, "id")
	if !ok {
		return
	}
	identifier, err := models.NextAccountIdentifier(c.Request.Context(), budgetId)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"identifier": identifier})
}

/* sub-accounts */

func subAccountParent(c *gin.Context) (models.ParentKind, int, bool) {
	parentId, ok := paramInt(c, "id")
	if !ok {
		return "", 0, false
	}
	if strings.HasPrefix(c.FullPath(), "/accounts/") {
		return models.ParentKindAccount, parentId, true
	}
	return models.ParentKindSubAccount, parentId, true
}

func listSubAccountsHandler(c *gin.Context) {
	if !requireUser(c) {
		return
	}
	parentType, parentId, ok := subAccountParent(c)
	if !ok {
		return
	}
	withGroups := c.Query("grouped") == "true"
	search := c.Query("search")
	endpoint := "subaccounts"
	if withGroups {
		endpoint = "subaccounts:grouped"
	}
	ctx := c.Request.Context()
	rows, err := models.GetOrComputeCachedResponse(ctx, endpoint, models.ParentInstanceRef(parentType, parentId), search, func() ([]*models.SubAccount, error) {
		return models.GetSubAccounts(ctx, parentType, parentId, withGroups, search)
	})
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func createSubAccountsHandler(c *gin.Context) {
	if !requireUser(c) {
		return
	}
	parentType, parentId, ok := subAccountParent(c)
	if !ok {
		return
	}
	var inputs []*models.NewSubAccount
	if err := c.ShouldBindJSON(&inputs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rows, err := models.BulkCreateSubAccounts(c.Request.Context(), parentType, parentId, inputs)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rows)
}

func updateSubAccountHandler(c *gin.Context) {
	if !requireUser(c) {
		return
	}
	id, ok := paramInt(c, "id")
	if !ok {
		return
	}
	var input models.NewSubAccount
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	row, err := models.UpdateSubAccount(c.Request.Context(), id, &input)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, row)
}

func deleteSubAccountHandler(c *gin.Context) {
	if !requireUser(c) {
		return
	}
	id, ok := paramInt(c, "id")
	if !ok {
		return
	}
	if _, err := models.DeleteSubAccount(c.Request.Context(), id); err != nil {
		apiError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

/* fringes */

func listFringesHandler(c *gin.Context) {
	if !requireUser(c) {
		return
	}
	budgetId, ok := paramInt(c, "id")
	if !ok {
		return
	}
	search := c.Query("search")
	ctx := c.Request.Context()
	rows, err := models.GetOrComputeCachedResponse(ctx, "fringes", models.BudgetInstanceRef(budgetId), search, func() ([]*models.Fringe, error) {
		return models.GetFringes(ctx, budgetId, search)
	})
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func createFringesHandler(c *gin.Context) {
	if !requireUser(c) {
		return
	}
	budgetId, ok := paramInt(c, "id")
	if !ok {
		return
	}
	var inputs []*models.NewFringe
	if err := c.ShouldBindJSON(&inputs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rows, err := models.BulkCreateFringes(c.Request.Context(), budgetId, inputs)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rows)
}

func updateFringeHandler(c *gin.Context) {
	if !requireUser(c) {
		return
	}
	id, ok := paramInt(c, "id")
	if !ok {
		return
	}
	var input models.NewFringe
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	fringe, err := models.UpdateFringe(c.Request.Context(), id, &input)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, fringe)
}

func deleteFringeHandler(c *gin.Context) {
	if !requireUser(c) {
		return
	}
	id, ok := paramInt(c, "id")
	if !ok {
		return
	}
	if _, err := models.DeleteFringe(c.Request.Context(), id); err != nil {
		apiError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

/* markups */

func markupParent(c *gin.Context) (models.ParentKind, int, bool) {
	parentId, ok := paramInt(c, "id")
	if !ok {
		return "", 0, false
	}
	path := c.FullPath()
	switch {
	case strings.HasPrefix(path, "/budgets/"):
		return models.ParentKindBudget, parentId, true
	case strings.HasPrefix(path, "/accounts/"):
		return models.ParentKindAccount, parentId, true
	default:
		return models.ParentKindSubAccount, parentId, true
	}
}

func listMarkupsHandler(c *gin.Context) {
	if !requireUser(c) {
		return
	}
	parentType, parentId, ok := markupParent(c)
	if !ok {
		return
	}
	search := c.Query("search")
	ctx := c.Request.Context()
	rows, err := models.GetOrComputeCachedResponse(ctx, "markups", models.ParentInstanceRef(parentType, parentId), search, func() ([]*models.Markup, error) {
		return models.GetMarkups(ctx, parentType, parentId, search)
	})
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func createMarkupsHandler(c *gin.Context) {
	if !requireUser(c) {
		return
	}
	parentType, parentId, ok := markupParent(c)
	if !ok {
		return
	}
	var inputs []*models.NewMarkup
	if err := c.ShouldBindJSON(&inputs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rows, err := models.BulkCreateMarkups(c.Request.Context(), parentType, parentId, inputs)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rows)
}

func updateMarkupHandler(c *gin.Context) {
	if !requireUser(c) {
		return
	}
	id, ok := paramInt(c, "id")
	if !ok {
		return
	}
	var input models.NewMarkup
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	markup, err := models.UpdateMarkup(c.Request.Context(), id, &input)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, markup)
}

func deleteMarkupHandler(c *gin.Context) {
	if !requireUser(c) {
		return
	}
	id, ok := paramInt(c, "id")
	if !ok {
		return
	}
	if _, err := models.DeleteMarkup(c.Request.Context(), id); err != nil {
		apiError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func bulkUpdateMarkupsHandler(c *gin.Context) {
	if !requireUser(c) {
		return
	}
	var updates []*models.MarkupUpdate
	if err := c.ShouldBindJSON(&updates); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rows, err := models.BulkUpdateMarkups(c.Request.Context(), updates)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func bulkDeleteMarkupsHandler(c *gin.Context) {
	if !requireUser(c) {
		return
	}
	parentType, parentId, ok := markupParent(c)
	if !ok {
		return
	}
	var req struct {
		Ids []int `json:"ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := models.BulkDeleteMarkups(c.Request.Context(), parentType, parentId, req.Ids); err != nil {
		apiError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

/* groups */

func createGroupHandler(c *gin.Context) {
	if !requireUser(c) {
		return
	}
	parentType, parentId, ok := markupParent(c)
	if !ok {
		return
	}
	var input models.NewGroup
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	group, err := models.CreateGroup(c.Request.Context(), parentType, parentId, &input)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusCreated, group)
}

func updateGroupHandler(c *gin.Context) {
	if !requireUser(c) {
		return
	}
	id, ok := paramInt(c, "id")
	if !ok {
		return
	}
	var input models.NewGroup
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	group, err := models.UpdateGroup(c.Request.Context(), id, &input)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, group)
}

func deleteGroupHandler(c *gin.Context) {
	if !requireUser(c) {
		return
	}
	id, ok := paramInt(c, "id")
	if !ok {
		return
	}
	if _, err := models.DeleteGroup(c.Request.Context(), id); err != nil {
		apiError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

/* actuals */

func listActualsHandler(c *gin.Context) {
	if !requireUser(c) {
		return
	}
	budgetId, ok := paramInt(c, "id")
	if !ok {
		return
	}
	search := c.Query("search")
	ctx := c.Request.Context()
	rows, err := models.GetOrComputeCachedResponse(ctx, "actuals", models.BudgetInstanceRef(budgetId), search, func() ([]*models.Actual, error) {
		return models.GetActuals(ctx, budgetId, search)
	})
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func createActualsHandler(c *gin.Context) {
	if !requireUser(c) {
		return
	}
	budgetId, ok := paramInt(c, "id")
	if !ok {
		return
	}
	var inputs []*models.NewActual
	if err := c.ShouldBindJSON(&inputs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rows, err := models.BulkCreateActuals(c.Request.Context(), budgetId, inputs)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rows)
}

func updateActualHandler(c *gin.Context) {
	if !requireUser(c) {
		return
	}
	id, ok := paramInt(c, "id")
	if !ok {
		return
	}
	var input models.NewActual
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	actual, err := models.UpdateActual(c.Request.Context(), id, &input)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, actual)
}

func deleteActualHandler(c *gin.Context) {
	if !requireUser(c) {
		return
	}
	id, ok := paramInt(c, "id")
	if !ok {
		return
	}
	if _, err := models.DeleteActual(c.Request.Context(), id); err != nil {
		apiError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func importActualsHandler(c *gin.Context) {
	if !requireUser(c) {
		return
	}
	budgetId, ok := paramInt(c, "id")
	if !ok {
		return
	}
	var transactions []models.PlaidTransaction
	if err := c.ShouldBindJSON(&transactions); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rows, err := models.ImportPlaidActuals(c.Request.Context(), budgetId, transactions)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rows)
}

/* contacts */

func listContactsHandler(c *gin.Context) {
	if !requireUser(c) {
		return
	}
	rows, err := models.GetContacts(c.Request.Context())
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func createContactHandler(c *gin.Context) {
	if !requireUser(c) {
		return
	}
	var input models.NewContact
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	contact, err := models.CreateContact(c.Request.Context(), &input)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusCreated, contact)
}

func updateContactHandler(c *gin.Context) {
	if !requireUser(c) {
		return
	}
	id, ok := paramInt(c, "id")
	if !ok {
		return
	}
	var input models.NewContact
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	contact, err := models.UpdateContact(c.Request.Context(), id, &input)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, contact)
}

func deleteContactHandler(c *gin.Context) {
	if !requireUser(c) {
		return
	}
	id, ok := paramInt(c, "id")
	if !ok {
		return
	}
	if _, err := models.DeleteContact(c.Request.Context(), id); err != nil {
		apiError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func registerRoutes(r *gin.Engine) {
	r.GET("/budgets", listBudgetsHandler(models.DomainBudget))
	r.POST("/budgets", createBudgetHandler(models.DomainBudget))
	r.GET("/templates", listBudgetsHandler(models.DomainTemplate))
	r.POST("/templates", createBudgetHandler(models.DomainTemplate))
	r.GET("/budgets/trash", trashedBudgetsHandler)
	r.GET("/budgets/:id", getBudgetHandler)
	r.PUT("/budgets/:id", updateBudgetHandler)
	r.POST("/budgets/:id/trash", trashBudgetHandler)
	r.POST("/budgets/:id/restore", restoreBudgetHandler)
	r.DELETE("/budgets/:id", deleteBudgetHandler)
	r.POST("/budgets/:id/duplicate", duplicateBudgetHandler)
	r.POST("/templates/:id/derive", deriveBudgetHandler)
	r.GET("/budgets/:id/export", exportBudgetHandler)

	r.GET("/budgets/:id/accounts", listAccountsHandler)
	r.POST("/budgets/:id/accounts", createAccountsHandler)
	r.POST("/budgets/:id/accounts/bulk-delete", bulkDeleteAccountsHandler)
	r.GET("/budgets/:id/accounts/next-identifier", nextAccountIdentifierHandler)
	r.PUT("/accounts/:id", updateAccountHandler)
	r.DELETE("/accounts/:id", deleteAccountHandler)

	r.GET("/accounts/:id/subaccounts", listSubAccountsHandler)
	r.POST("/accounts/:id/subaccounts", createSubAccountsHandler)
	r.GET("/subaccounts/:id/subaccounts", listSubAccountsHandler)
	r.POST("/subaccounts/:id/subaccounts", createSubAccountsHandler)
	r.PUT("/subaccounts/:id", updateSubAccountHandler)
	r.DELETE("/subaccounts/:id", deleteSubAccountHandler)

	r.GET("/budgets/:id/fringes", listFringesHandler)
	r.POST("/budgets/:id/fringes", createFringesHandler)
	r.PUT("/fringes/:id", updateFringeHandler)
	r.DELETE("/fringes/:id", deleteFringeHandler)

	r.GET("/budgets/:id/markups", listMarkupsHandler)
	r.POST("/budgets/:id/markups", createMarkupsHandler)
	r.POST("/budgets/:id/markups/bulk-delete", bulkDeleteMarkupsHandler)
	r.GET("/accounts/:id/markups", listMarkupsHandler)
	r.POST("/accounts/:id/markups", createMarkupsHandler)
	r.POST("/accounts/:id/markups/bulk-delete", bulkDeleteMarkupsHandler)
	r.GET("/subaccounts/:id/markups", listMarkupsHandler)
	r.POST("/subaccounts/:id/markups", createMarkupsHandler)
	r.POST("/subaccounts/:id/markups/bulk-delete", bulkDeleteMarkupsHandler)
	r.PUT("/markups", bulkUpdateMarkupsHandler)
	r.PUT("/markups/:id", updateMarkupHandler)
	r.DELETE("/markups/:id", deleteMarkupHandler)

	r.POST("/budgets/:id/groups", createGroupHandler)
	r.POST("/accounts/:id/groups", createGroupHandler)
	r.POST("/subaccounts/:id/groups", createGroupHandler)
	r.PUT("/groups/:id", updateGroupHandler)
	r.DELETE("/groups/:id", deleteGroupHandler)

	r.GET("/budgets/:id/actuals", listActualsHandler)
	r.POST("/budgets/:id/actuals", createActualsHandler)
	r.POST("/budgets/:id/actuals/import", importActualsHandler)
	r.PUT("/actuals/:id", updateActualHandler)
	r.DELETE("/actuals/:id", deleteActualHandler)

	r.GET("/contacts", listContactsHandler)
	r.POST("/contacts", createContactHandler)
	r.PUT("/contacts/:id", updateContactHandler)
	r.DELETE("/contacts/:id", deleteContactHandler)
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	r := gin.New()
	r.Use(middlewares.RequestContextMiddleware())
	r.Use(tracingMiddleware())
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// gate app endpoints on dependency readiness
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	r.Use(middlewares.SessionMiddleware())
	r.Use(gin.Recovery())
	registerRoutes(r)

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on http://localhost:", port)
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}
}
