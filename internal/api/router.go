package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/example/ticketing-saga/internal/api/middleware"
	"github.com/example/ticketing-saga/internal/auth"
	"github.com/example/ticketing-saga/internal/logging"
	"github.com/example/ticketing-saga/internal/metrics"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func NewRouter(h *Handlers) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", h.Health)
	mux.Handle("/metrics", metrics.Handler())

	var (
		authenticated func(http.Handler) http.Handler
		operator      func(http.Handler) http.Handler
		optional      func(http.Handler) http.Handler
	)
	if h.jwt != nil {
		authenticated = middleware.AuthMiddleware(h.jwt)
		optional = middleware.OptionalAuthMiddleware(h.jwt)
		requireOperator := middleware.RequireRole(auth.RoleOperator)
		operator = func(next http.Handler) http.Handler { return authenticated(requireOperator(next)) }
	} else {
		optional = func(next http.Handler) http.Handler { return next }
	}
	mustAuth := func() {
		if h.jwt == nil {
			panic("api: JWT service is required for authenticated routes")
		}
	}

	// Orders
	if h.orders != nil {
		mux.Handle("/orders", optional(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPost:
				h.CreateOrder(w, r)
			default:
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			}
		})))

		mux.HandleFunc("/orders/", func(w http.ResponseWriter, r *http.Request) {
			switch {
			case strings.HasSuffix(r.URL.Path, "/cancel") && r.Method == http.MethodPost:
				h.CancelOrder(w, r)
			case r.Method == http.MethodGet:
				h.GetOrder(w, r)
			default:
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			}
		})
	}

	// Payments
	if h.payments != nil {
		mustAuth()
		cancel := operator(http.HandlerFunc(h.CancelPayment))
		mux.HandleFunc("/payments/", func(w http.ResponseWriter, r *http.Request) {
			switch {
			case strings.HasSuffix(r.URL.Path, "/cancel") && r.Method == http.MethodPost:
				cancel.ServeHTTP(w, r)
			case r.Method == http.MethodGet:
				h.GetPayment(w, r)
			default:
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			}
		})
	}

	// Ticket management
	if h.ledger != nil {
		mustAuth()
		initialize := operator(http.HandlerFunc(h.InitializeLedger))
		adjust := operator(http.HandlerFunc(h.AdjustLedger))
		mux.HandleFunc("/ledger/", func(w http.ResponseWriter, r *http.Request) {
			switch {
			case strings.HasSuffix(r.URL.Path, "/adjust") && r.Method == http.MethodPost:
				adjust.ServeHTTP(w, r)
			case r.Method == http.MethodPost:
				initialize.ServeHTTP(w, r)
			case r.Method == http.MethodGet:
				h.GetLedger(w, r)
			default:
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			}
		})
	}
	if h.reservations != nil {
		mux.HandleFunc("/reservations", func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				h.ListReservations(w, r)
			default:
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			}
		})
	}

	// Tickets
	if h.tickets != nil {
		mux.HandleFunc("/tickets", func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				h.ListTickets(w, r)
			default:
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			}
		})

		mux.HandleFunc("/tickets/", func(w http.ResponseWriter, r *http.Request) {
			switch {
			case strings.HasSuffix(r.URL.Path, "/validate") && r.Method == http.MethodPost:
				h.ValidateTicket(w, r)
			case r.Method == http.MethodGet:
				h.GetTicket(w, r)
			default:
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			}
		})
	}

	// Refunds
	if h.refunds != nil {
		mustAuth()
		mux.Handle("/refunds", authenticated(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPost:
				h.SubmitRefund(w, r)
			default:
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			}
		})))

		decide := operator(http.HandlerFunc(h.DecideRefund))
		get := authenticated(http.HandlerFunc(h.GetRefund))
		mux.HandleFunc("/refunds/", func(w http.ResponseWriter, r *http.Request) {
			switch {
			case strings.HasSuffix(r.URL.Path, "/decision") && r.Method == http.MethodPost:
				decide.ServeHTTP(w, r)
			case r.Method == http.MethodGet:
				get.ServeHTTP(w, r)
			default:
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			}
		})
	}

	// Sagas
	if h.sagas != nil {
		mux.HandleFunc("/sagas/", func(w http.ResponseWriter, r *http.Request) {
			switch {
			case r.Method != http.MethodGet:
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			case extractPathParam(r.URL.Path, "/sagas/") == "stuck":
				h.GetStuckSagas(w, r)
			default:
				h.GetSaga(w, r)
			}
		})
	}

	return withLogging(mux)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withLogging tags the request with a correlation id and a server span, and
// logs it once it completes.
func withLogging(next http.Handler) http.Handler {
	tracer := otel.Tracer("ticketing-saga/api")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attribute.String("http.method", r.Method)),
		)
		defer span.End()

		ctx = logging.WithCorrelation(ctx, r.Header.Get(logging.CorrelationIDHeader))
		w.Header().Set(logging.CorrelationIDHeader, logging.CorrelationID(ctx))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.status_code", rec.status))
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			return
		}
		logging.FromContext(ctx).WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start),
		}).Info("[API] Request handled")
	})
}
