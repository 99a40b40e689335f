package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	golog "github.com/ipfs/go-log/v2"
	"github.com/rs/cors"
	"github.com/textileio/auctiond/auction"
	"github.com/textileio/auctiond/cmd/auctiond/binder"
	"github.com/textileio/auctiond/cmd/auctiond/service"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxBodySize = 1 << 20

var log = golog.Logger("auctiond/api")

// Service provides scoped access to the auctiond service.
type Service interface {
	Info() service.Info
	CreateAuction(name string, endTime *time.Time) (auction.Auction, error)
	ListAuctions() []auction.Auction
	SetSeller(auctionID, seller string) error
	CloseAuction(auctionID string) (auction.Auction, error)
	Bind(ctx context.Context, req binder.Request) (binder.Result, error)
	ListBids() []auction.Bid
	AuctionBids(auctionID string) ([]auction.Bid, error)
	PayoutPlan(auctionID string) (auction.PayoutPlan, error)
	Winner(auctionID string) (auction.Bid, int, error)
	Settle(ctx context.Context, auctionID string) (auction.TransferResult, error)
	Refund(ctx context.Context, auctionID string) ([]auction.TransferResult, error)
	Payouts(auctionID string) ([]auction.Payout, error)
	BindingHash(auctionID, sender, txHash, amount string) (string, error)
	Balance(ctx context.Context, address, signature string) (service.Balance, error)
	Faucet(ctx context.Context, to, amount string) (auction.TransferResult, error)
}

// NewServer returns a new http server for the auction API.
func NewServer(listenAddr string, corsOrigins []string, s Service) (*http.Server, error) {
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           c.Handler(otelhttp.NewHandler(createMux(s), "auctiond")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("stopping http server: %s", err)
		}
	}()

	log.Infof("http server started at %s", listenAddr)
	return httpServer, nil
}

func createMux(s Service) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /config", configHandler(s))
	mux.HandleFunc("GET /bids", bidsHandler(s))
	mux.HandleFunc("POST /binding-hash", bindingHashHandler(s))
	mux.HandleFunc("POST /balance", balanceHandler(s))
	mux.HandleFunc("POST /faucet", faucetHandler(s))

	mux.HandleFunc("POST /auctions", createAuctionHandler(s))
	mux.HandleFunc("GET /auctions", listAuctionsHandler(s))
	mux.HandleFunc("POST /auctions/{id}/seller", sellerHandler(s))
	mux.HandleFunc("POST /auctions/{id}/close", closeHandler(s))
	mux.HandleFunc("POST /auctions/{id}/bind", bindHandler(s))
	mux.HandleFunc("GET /auctions/{id}/bids", auctionBidsHandler(s))
	mux.HandleFunc("GET /auctions/{id}/payout-plan", payoutPlanHandler(s))
	winner := winnerHandler(s)
	mux.HandleFunc("GET /auctions/{id}/winner", winner)
	mux.HandleFunc("POST /auctions/{id}/winner", winner)
	mux.HandleFunc("POST /auctions/{id}/settle", settleHandler(s))
	mux.HandleFunc("POST /auctions/{id}/refund", refundHandler(s))
	mux.HandleFunc("GET /auctions/{id}/payouts", payoutsHandler(s))
	return mux
}

// amount accepts a JSON string or number.
type amount string

func (a *amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*a = amount(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("amount must be a string or a number")
	}
	*a = amount(n.String())
	return nil
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func configHandler(s Service) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.Info())
	}
}

func bidsHandler(s Service) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"bids": nonNil(s.ListBids())})
	}
}

func bindingHashHandler(s Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			AuctionID string `json:"auctionId"`
			Sender    string `json:"sender"`
			TxHash    string `json:"txHash"`
			Amount    amount `json:"amount"`
		}
		if !readJSON(w, r, &body) {
			return
		}
		if body.AuctionID == "" || body.Sender == "" || body.TxHash == "" || body.Amount == "" {
			httpError(w, auction.Errorf(auction.KindValidation, "auctionId, sender, txHash, amount required"))
			return
		}
		h, err := s.BindingHash(body.AuctionID, body.Sender, body.TxHash, string(body.Amount))
		if err != nil {
			httpError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"bindingHash": h})
	}
}

func balanceHandler(s Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Address   string `json:"address"`
			Signature string `json:"signature"`
		}
		if !readJSON(w, r, &body) {
			return
		}
		if body.Address == "" || body.Signature == "" {
			httpError(w, auction.Errorf(auction.KindValidation, "address and signature required"))
			return
		}
		bal, err := s.Balance(r.Context(), body.Address, body.Signature)
		if err != nil {
			httpError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, bal)
	}
}

func faucetHandler(s Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			To     string `json:"to"`
			Amount amount `json:"amount"`
		}
		if !readJSON(w, r, &body) {
			return
		}
		if body.To == "" || body.Amount == "" {
			httpError(w, auction.Errorf(auction.KindValidation, "to and amount required"))
			return
		}
		res, err := s.Faucet(r.Context(), body.To, string(body.Amount))
		if err != nil {
			httpError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"ok":          true,
			"to":          res.To,
			"amount":      fmt.Sprint(res.Amount),
			"txHash":      res.TxHash,
			"blockNumber": res.BlockNumber,
		})
	}
}

func createAuctionHandler(s Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Name    string     `json:"name"`
			EndTime *time.Time `json:"endTime"`
		}
		if !readJSON(w, r, &body) {
			return
		}
		a, err := s.CreateAuction(body.Name, body.EndTime)
		if err != nil {
			httpError(w, err)
			return
		}
		info := s.Info()
		writeJSON(w, http.StatusOK, map[string]string{
			"id":      a.ID,
			"escrow":  info.Escrow,
			"chainId": info.ChainID,
		})
	}
}

func listAuctionsHandler(s Service) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"auctions": nonNil(s.ListAuctions())})
	}
}

func sellerHandler(s Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Seller string `json:"seller"`
		}
		if !readJSON(w, r, &body) {
			return
		}
		if body.Seller == "" {
			httpError(w, auction.Errorf(auction.KindValidation, "seller required"))
			return
		}
		id := r.PathValue("id")
		if err := s.SetSeller(id, body.Seller); err != nil {
			httpError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": id, "seller": body.Seller})
	}
}

func closeHandler(s Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := s.CloseAuction(r.PathValue("id"))
		if err != nil {
			httpError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": a.ID, "status": a.Status.String()})
	}
}

func bindHandler(s Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			TxHash      string `json:"txHash"`
			Sender      string `json:"sender"`
			BindingHash string `json:"bindingHash"`
		}
		if !readJSON(w, r, &body) {
			return
		}
		res, err := s.Bind(r.Context(), binder.Request{
			AuctionID:   r.PathValue("id"),
			TxHash:      body.TxHash,
			Sender:      body.Sender,
			BindingHash: body.BindingHash,
		})
		if err != nil {
			httpError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "key": res.Key, "bid": res.Bid})
	}
}

func auctionBidsHandler(s Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bids, err := s.AuctionBids(r.PathValue("id"))
		if err != nil {
			httpError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"bids": nonNil(bids)})
	}
}

func payoutPlanHandler(s Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		plan, err := s.PayoutPlan(r.PathValue("id"))
		if err != nil {
			httpError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, plan)
	}
}

func winnerHandler(s Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		winner, total, err := s.Winner(r.PathValue("id"))
		if err != nil {
			httpError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"winner": winner, "totalBids": total})
	}
}

func settleHandler(s Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := s.Settle(r.Context(), r.PathValue("id"))
		if err != nil {
			httpError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"ok":          true,
			"txHash":      res.TxHash,
			"blockNumber": res.BlockNumber,
		})
	}
}

func refundHandler(s Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results, err := s.Refund(r.Context(), r.PathValue("id"))
		results = nonNil(results)
		if err != nil {
			log.Debugf("request error: %s", err)
			body := errorBody(err)
			body["results"] = results
			writeJSON(w, statusOf(err), body)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "results": results})
	}
}

func payoutsHandler(s Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payouts, err := s.Payouts(r.PathValue("id"))
		if err != nil {
			httpError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"payouts": nonNil(payouts)})
	}
}

func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		httpError(w, auction.Wrap(auction.KindValidation, "invalid json body", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("write failed: %v", err)
	}
}

func httpError(w http.ResponseWriter, err error) {
	log.Debugf("request error: %s", err)
	writeJSON(w, statusOf(err), errorBody(err))
}

func errorBody(err error) map[string]interface{} {
	return map[string]interface{}{"ok": false, "error": err.Error(), "kind": auction.KindOf(err).String()}
}

func statusOf(err error) int {
	switch auction.KindOf(err) {
	case auction.KindNotFound:
		return http.StatusNotFound
	case auction.KindValidation, auction.KindCommitmentMismatch, auction.KindInsufficientBalance:
		return http.StatusBadRequest
	case auction.KindLedgerTransient:
		return http.StatusServiceUnavailable
	case auction.KindLedgerFatal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
