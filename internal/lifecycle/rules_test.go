package lifecycle

import (
	"net/http"
	"testing"

	"kanban/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEveryEdgeHasExactlyOneRule(t *testing.T) {
	edges := 0
	for from, tos := range stageGraph {
		for _, to := range tos {
			edges++
			n := 0
			for _, r := range Rules() {
				if r.From == from && r.To == to {
					n++
				}
			}
			assert.Equal(t, 1, n, "%s -> %s", from, to)
		}
	}
	assert.Len(t, Rules(), edges, "no rule may exist outside the graph")

	for _, r := range Rules() {
		assert.True(t, IsValidTransition(r.From, r.To), "%s -> %s", r.From, r.To)
	}
}

func TestIsValidTransitionMatchesGraph(t *testing.T) {
	for _, from := range model.Stages {
		next := NextStages(from)
		for _, to := range model.Stages {
			assert.Equal(t, contains(next, to), IsValidTransition(from, to), "%s -> %s", from, to)
			_, ok := FindRule(from, to)
			assert.Equal(t, IsValidTransition(from, to), ok)
		}
	}
	assert.False(t, IsValidTransition(model.StageCreated, model.StageOrdered))
	assert.False(t, IsValidTransition(model.StageTriggered, model.StageCreated))
}

func TestNextStagesIsACopy(t *testing.T) {
	next := NextStages(model.StageOrdered)
	require.Len(t, next, 2)
	next[0] = model.StageCreated
	assert.Equal(t, []model.Stage{model.StageInTransit, model.StageReceived}, NextStages(model.StageOrdered))
}

func TestRuleChecks(t *testing.T) {
	trig, ok := FindRule(model.StageCreated, model.StageTriggered)
	require.True(t, ok)
	assert.True(t, trig.AllowsRole(RolePublicScan))
	assert.True(t, trig.AllowsMethod(model.MethodQRScan))
	assert.False(t, trig.AllowsMethod(model.MethodSystem))

	order, ok := FindRule(model.StageTriggered, model.StageOrdered)
	require.True(t, ok)
	assert.True(t, order.RequiresLinkedOrder)
	assert.False(t, order.AllowsRole(RoleOperator))
	assert.True(t, order.AllowsRole(RoleTenantAdmin))
	assert.True(t, order.AcceptsOrderType(model.OrderWork))
	assert.False(t, order.AcceptsOrderType("invoice"))

	direct, ok := FindRule(model.StageOrdered, model.StageReceived)
	require.True(t, ok)
	assert.True(t, direct.AllowsLoopType(model.LoopProduction))
	assert.False(t, direct.AllowsLoopType(model.LoopProcurement))
	assert.False(t, direct.AllowsLoopType(model.LoopTransfer))
}

func TestErrorStatus(t *testing.T) {
	cases := []struct {
		err  *Error
		want int
	}{
		{&Error{Code: CodeValidation}, http.StatusBadRequest},
		{&Error{Code: CodeCardNotFound}, http.StatusNotFound},
		{&Error{Code: CodeRoleNotAllowed}, http.StatusForbidden},
		{&Error{Code: CodeTenantMismatch}, http.StatusForbidden},
		{&Error{Code: CodeScanConflict, Resolution: ConflictAlreadyTriggered}, http.StatusConflict},
		{&Error{Code: CodeScanConflict, Resolution: ConflictCardInactive}, http.StatusBadRequest},
		{&Error{Code: CodeDuplicateScan}, http.StatusConflict},
		{&Error{Code: CodePreconditionFailed}, http.StatusBadRequest},
		{&Error{Code: CodeUnknown}, http.StatusInternalServerError},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, c.err.HTTPStatus(), string(c.err.Code))
	}
	assert.Equal(t, CategoryIncompatible, CodeLoopTypeIncompatible.Category())
	assert.Equal(t, CategoryInvalidState, CodeCardInactive.Category())
}

func contains(list []model.Stage, s model.Stage) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
