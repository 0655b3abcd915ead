package httptransport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"receiv3/internal/access"
	accessstore "receiv3/internal/access/store"
	"receiv3/internal/asset"
	invoiceservice "receiv3/internal/invoice/service"
	invoicestore "receiv3/internal/invoice/store"
	jwttoken "receiv3/internal/jwt_token"
	"receiv3/internal/platform/metrics"
	poolservice "receiv3/internal/pool/service"
	poolstore "receiv3/internal/pool/store"
	ratelimitmw "receiv3/internal/ratelimit/middleware"
	ratelimitmodels "receiv3/internal/ratelimit/models"
	"receiv3/internal/ratelimit/store/bucket"
	"receiv3/pkg/domain"
	"receiv3/pkg/platform/audit"
	"receiv3/pkg/platform/audit/publisher"
	auditmemory "receiv3/pkg/platform/audit/store/memory"
	"receiv3/pkg/testutil"
)

var (
	deployer = domain.MustAddress("0x00000000000000000000000000000000000000d0")
	engine   = domain.MustAddress("0x00000000000000000000000000000000000000ee")
	wallet   = domain.MustAddress("0x00000000000000000000000000000000000000fe")
	alice    = domain.MustAddress("0x00000000000000000000000000000000000000a1")
	mallory  = domain.MustAddress("0x00000000000000000000000000000000000000f9")
)

type RouterSuite struct {
	suite.Suite
	router http.Handler
	tokens *jwttoken.JWTService
	ledger *asset.MemoryLedger
	health map[string]HealthCheck
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	events := publisher.NewPublisher(auditmemory.NewInMemoryStore())

	registryRoles := access.NewController(access.ComponentRegistry, accessstore.NewInMemory(), access.WithAuditPublisher(events))
	s.Require().NoError(registryRoles.Bootstrap(ctx, deployer, access.RoleAdmin, access.RoleOperator, access.RoleMinter))
	s.Require().NoError(registryRoles.Bootstrap(ctx, engine, access.RoleOperator))
	engineRoles := access.NewController(access.ComponentEngine, accessstore.NewInMemory(), access.WithAuditPublisher(events))
	s.Require().NoError(engineRoles.Bootstrap(ctx, deployer, access.RoleAdmin, access.RoleOperator))

	invoices := invoiceservice.New(invoicestore.NewInMemory(), registryRoles, invoiceservice.WithAuditPublisher(events))
	s.ledger = asset.NewMemoryLedger(deployer)
	engineSvc := poolservice.New(poolstore.NewInMemory(), s.ledger, invoices, engineRoles,
		poolservice.Config{Address: engine, PlatformWallet: wallet, PlatformFeeBps: 250},
		poolservice.WithAuditPublisher(events))
	s.Require().NoError(engineSvc.Bootstrap(ctx))

	s.tokens = jwttoken.NewJWTService("router-test-key", "receiv3", "receiv3-api")
	s.health = map[string]HealthCheck{"store": func(context.Context) error { return nil }}
	reg := prometheus.NewRegistry()
	limiter := ratelimitmw.New(bucket.NewInMemoryBucketStore(), map[ratelimitmodels.EndpointClass]ratelimitmodels.Limit{
		ratelimitmodels.ClassWrite:  {Requests: 100, Window: time.Minute},
		ratelimitmodels.ClassFaucet: {Requests: 2, Window: time.Hour},
	}, logger)
	s.router = NewRouter(Dependencies{
		Logger:        logger,
		Validator:     jwttoken.NewJWTServiceAdapter(s.tokens),
		Registry:      invoices,
		Engine:        engineSvc,
		RegistryRoles: registryRoles,
		EngineRoles:   engineRoles,
		Ledger:        s.ledger,
		Events:        events,
		Metrics:       metrics.New(reg),
		Gatherer:      reg,
		Health:        s.health,
		RateLimiter:   limiter,
	})
}

func (s *RouterSuite) do(req *http.Request, caller domain.Address) *httptest.ResponseRecorder {
	if !caller.IsZero() {
		token, err := s.tokens.GenerateAccessToken(caller, time.Minute)
		s.Require().NoError(err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return testutil.DoRequest(s.router, req)
}

func (s *RouterSuite) TestHealth() {
	rec := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/healthz"), "")
	testutil.AssertStatusOK(s.T(), rec)
	testutil.AssertJSONContains(s.T(), rec, "status", "ok")

	s.health["ledger"] = func(context.Context) error { return errors.New("connection refused") }
	rec = s.do(testutil.NewRequest(s.T(), http.MethodGet, "/healthz"), "")
	testutil.AssertStatus(s.T(), rec, http.StatusServiceUnavailable)
	testutil.AssertJSONContains(s.T(), rec, "status", "degraded")
}

func (s *RouterSuite) TestWritesRequireToken() {
	rec := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/asset/faucet", faucetRequest{Amount: "500"}), "")
	testutil.AssertStatusAndError(s.T(), rec, http.StatusUnauthorized, "unauthorized")

	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/asset/faucet", faucetRequest{Amount: "500"})
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = testutil.DoRequest(s.router, req)
	testutil.AssertStatusAndError(s.T(), rec, http.StatusUnauthorized, "unauthorized")

	rec = s.do(testutil.NewRequest(s.T(), http.MethodGet, "/platform"), "")
	testutil.AssertStatusOK(s.T(), rec)
}

func (s *RouterSuite) TestAssetEndpoints() {
	t := s.T()

	rec := s.do(testutil.NewRequest(t, http.MethodGet, "/asset"), "")
	testutil.AssertStatusOK(t, rec)
	info := testutil.UnmarshalResponse[assetInfoResponse](t, rec)
	s.Equal(asset.Symbol, info.Symbol)
	s.Equal(asset.Name, info.Name)
	s.Equal("1000000", info.TotalSupply)

	rec = s.do(testutil.NewJSONRequest(t, http.MethodPost, "/asset/faucet", faucetRequest{Amount: "500"}), alice)
	testutil.AssertStatus(t, rec, http.StatusNoContent)
	rec = s.do(testutil.NewJSONRequest(t, http.MethodPost, "/asset/faucet", faucetRequest{Amount: "10000.01"}), alice)
	testutil.AssertStatusAndError(t, rec, http.StatusUnprocessableEntity, "validation_error")

	rec = s.do(testutil.NewJSONRequest(t, http.MethodPost, "/asset/faucet", faucetRequest{Amount: "1"}), alice)
	testutil.AssertStatus(t, rec, http.StatusTooManyRequests)
	s.NotEmpty(rec.Header().Get("Retry-After"))
	rec = s.do(testutil.NewJSONRequest(t, http.MethodPost, "/asset/faucet", faucetRequest{Amount: "1"}), mallory)
	testutil.AssertStatus(t, rec, http.StatusNoContent)

	rec = s.do(testutil.NewRequest(t, http.MethodGet, "/asset/balances/"+alice.String()), "")
	testutil.AssertJSONContains(t, rec, "amount", "500")

	rec = s.do(testutil.NewJSONRequest(t, http.MethodPost, "/asset/approve", transferRequest{Account: engine.String(), Amount: "200"}), alice)
	testutil.AssertStatus(t, rec, http.StatusNoContent)
	rec = s.do(testutil.NewRequest(t, http.MethodGet, "/asset/allowances/"+alice.String()+"/"+engine.String()), "")
	testutil.AssertJSONContains(t, rec, "amount", "200")

	rec = s.do(testutil.NewJSONRequest(t, http.MethodPost, "/asset/transfer", transferRequest{Account: mallory.String(), Amount: "501"}), alice)
	testutil.AssertStatus(t, rec, http.StatusUnprocessableEntity)

	rec = s.do(testutil.NewJSONRequest(t, http.MethodPost, "/asset/mint", transferRequest{Account: mallory.String(), Amount: "1"}), alice)
	testutil.AssertStatusAndError(t, rec, http.StatusForbidden, "forbidden")

	rec = s.do(testutil.NewJSONRequest(t, http.MethodPost, "/asset/mint", transferRequest{Account: mallory.String(), Amount: "1"}), deployer)
	testutil.AssertStatus(t, rec, http.StatusNoContent)

	rec = s.do(testutil.NewRequest(t, http.MethodGet, "/asset/balances/not-an-address"), "")
	testutil.AssertStatusAndError(t, rec, http.StatusBadRequest, "bad_request")
}

func (s *RouterSuite) TestRoleEndpoints() {
	t := s.T()
	grant := roleRequest{Account: alice.String()}

	rec := s.do(testutil.NewJSONRequest(t, http.MethodPost, "/roles/engine/operator/grant", grant), mallory)
	testutil.AssertStatusAndError(t, rec, http.StatusForbidden, "forbidden")

	rec = s.do(testutil.NewJSONRequest(t, http.MethodPost, "/roles/engine/operator/grant", grant), deployer)
	testutil.AssertStatus(t, rec, http.StatusNoContent)

	rec = s.do(testutil.NewRequest(t, http.MethodGet, "/roles/engine/operator/"+alice.String()), "")
	testutil.AssertJSONContains(t, rec, "has_role", true)
	rec = s.do(testutil.NewRequest(t, http.MethodGet, "/roles/registry/operator/"+alice.String()), "")
	testutil.AssertJSONContains(t, rec, "has_role", false)

	rec = s.do(testutil.NewRequest(t, http.MethodGet, "/roles/engine/operator"), "")
	testutil.AssertStatusOK(t, rec)
	members := testutil.UnmarshalResponse[membersResponse](t, rec)
	s.ElementsMatch([]string{deployer.String(), alice.String()}, members.Members)

	rec = s.do(testutil.NewRequest(t, http.MethodPost, "/roles/engine/operator/renounce"), alice)
	testutil.AssertStatus(t, rec, http.StatusNoContent)
	rec = s.do(testutil.NewRequest(t, http.MethodGet, "/roles/engine/operator/"+alice.String()), "")
	testutil.AssertJSONContains(t, rec, "has_role", false)

	rec = s.do(testutil.NewRequest(t, http.MethodGet, "/roles/vault/operator"), "")
	testutil.AssertStatusAndError(t, rec, http.StatusNotFound, "not_found")
	rec = s.do(testutil.NewRequest(t, http.MethodGet, "/roles/engine/janitor"), "")
	testutil.AssertStatusAndError(t, rec, http.StatusBadRequest, "bad_request")

	rec = s.do(testutil.NewRequest(t, http.MethodGet, "/events?entity_type=role&entity_id=engine:OPERATOR"), "")
	testutil.AssertStatusOK(t, rec)
	trail := testutil.UnmarshalResponse[eventsResponse](t, rec)
	actions := make([]string, 0, len(trail.Events))
	for _, e := range trail.Events {
		actions = append(actions, e.Action)
	}
	// bootstrap grant to the deployer, the grant to alice, her renounce
	s.Equal([]string{
		string(audit.EventRoleGranted),
		string(audit.EventRoleGranted),
		string(audit.EventRoleRevoked),
	}, actions)
	s.Equal(string(audit.CategorySecurity), trail.Events[1].Category)
	s.Equal(deployer.String(), trail.Events[1].Actor)
	s.Equal(alice.String(), trail.Events[1].Counterparty)
	s.Equal(alice.String(), trail.Events[2].Actor)
}

func (s *RouterSuite) TestEventQueries() {
	t := s.T()

	rec := s.do(testutil.NewRequest(t, http.MethodGet, "/events?entity_type=pool"), "")
	testutil.AssertStatusAndError(t, rec, http.StatusBadRequest, "bad_request")

	rec = s.do(testutil.NewRequest(t, http.MethodGet, "/events?limit=0"), "")
	testutil.AssertStatusAndError(t, rec, http.StatusBadRequest, "bad_request")

	rec = s.do(testutil.NewRequest(t, http.MethodGet, "/events?limit=5"), "")
	testutil.AssertStatusOK(t, rec)
	assert.NotNil(t, testutil.UnmarshalResponse[eventsResponse](t, rec).Events)
}

func (s *RouterSuite) TestMetricsEndpoint() {
	t := s.T()
	s.do(testutil.NewRequest(t, http.MethodGet, "/platform"), "")

	rec := s.do(testutil.NewRequest(t, http.MethodGet, "/metrics"), "")
	testutil.AssertStatusOK(t, rec)
	body := rec.Body.String()
	require.True(t, strings.Contains(body, "receiv3_http_requests_total"))
	assert.Contains(t, body, `route="/platform"`)
}
