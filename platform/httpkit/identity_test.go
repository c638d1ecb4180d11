package httpkit

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func TestIdentityFrom(t *testing.T) {
	gin.SetMode(gin.TestMode)

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if id := IdentityFrom(c); id.Authenticated {
		t.Fatal("expected an anonymous identity when no auth context is set")
	}

	userID := uuid.New()
	c.Set(ContextUserIDKey, userID)
	c.Set(ContextRolesKey, []string{"operator"})

	id := IdentityFrom(c)
	if !id.Authenticated {
		t.Fatal("expected an authenticated identity")
	}
	if id.UserID != userID {
		t.Fatalf("expected user %s, got %s", userID, id.UserID)
	}
	if !id.HasRole("operator") {
		t.Fatal("expected the operator role")
	}
	if id.HasRole("admin") {
		t.Fatal("unexpected admin role")
	}
}

func TestIdentityFromRejectsMalformedContext(t *testing.T) {
	gin.SetMode(gin.TestMode)

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Set(ContextUserIDKey, "not-a-uuid")

	if id := IdentityFrom(c); id.Authenticated {
		t.Fatal("expected a malformed user id to yield the anonymous identity")
	}
}
