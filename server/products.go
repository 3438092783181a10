package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pricedrop-notifier/pkg/tracker"
)

const maxRequestBody = 64 << 10

// createProductRequest is the body of POST /api/products.
type createProductRequest struct {
	URL            string `json:"url"`
	NotifyOnDrop   bool   `json:"notify_on_drop"`
	DropPercentage int    `json:"drop_percentage"`
}

func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, s.store.Products())
	case http.MethodPost:
		s.handleCreateProduct(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleCreateProduct validates the request, extracts the listing once
// synchronously, and only then stores the product. Extraction failure is a
// loud 400 here; scheduled re-check failures stay silent.
func (s *Server) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	if !s.allowMutation(w, r) {
		return
	}

	var req createProductRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		s.writeError(w, http.StatusBadRequest, "Product URL is required")
		return
	}
	if req.DropPercentage < 0 || req.DropPercentage > 100 {
		s.writeError(w, http.StatusBadRequest, "Drop percentage must be between 0 and 100")
		return
	}
	for _, existing := range s.store.Products() {
		if existing.URL == req.URL {
			s.writeError(w, http.StatusBadRequest, "Product is already being tracked")
			return
		}
	}

	listing, err := s.extractor.Extract(r.Context(), req.URL)
	if err != nil {
		s.logger.Warn("Failed to extract listing", "url", req.URL, "error", err)
		if s.isExtractError(err) {
			s.writeError(w, http.StatusBadRequest, "Could not read product details from that URL - make sure it's a valid marketplace product link")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if listing.OriginalPrice < listing.CurrentPrice {
		listing.OriginalPrice = listing.CurrentPrice
	}

	now := time.Now().UTC()
	product := s.store.Create(r.Context(), &tracker.Product{
		URL:            req.URL,
		Title:          listing.Title,
		ImageURL:       listing.ImageURL,
		CurrentPrice:   listing.CurrentPrice,
		OriginalPrice:  listing.OriginalPrice,
		NotifyOnDrop:   req.NotifyOnDrop,
		DropPercentage: req.DropPercentage,
		PriceHistory:   []tracker.PricePoint{{Date: now, Price: listing.CurrentPrice}},
		LastChecked:    now,
	})

	s.logger.Info("Product tracked", "product_id", product.ID, "url", product.URL, "ip", clientIP(r))
	s.writeJSON(w, http.StatusCreated, product)
}

// updateProductRequest is the body of PATCH /api/products/{id}. Absent
// fields are left unchanged.
type updateProductRequest struct {
	NotifyOnDrop   *bool `json:"notify_on_drop"`
	DropPercentage *int  `json:"drop_percentage"`
}

func (s *Server) handleProductByID(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(strings.TrimPrefix(r.URL.Path, "/api/products/"))
	if !ok {
		s.writeError(w, http.StatusBadRequest, "Invalid product id")
		return
	}

	switch r.Method {
	case http.MethodGet:
		product, err := s.store.Product(id)
		if err != nil {
			s.writeNotFoundOrError(w, err, "Product not found")
			return
		}
		s.writeJSON(w, http.StatusOK, product)
	case http.MethodPatch:
		s.handleUpdateProduct(w, r, id)
	case http.MethodDelete:
		if !s.allowMutation(w, r) {
			return
		}
		if err := s.store.Delete(r.Context(), id); err != nil {
			s.writeNotFoundOrError(w, err, "Product not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleUpdateProduct(w http.ResponseWriter, r *http.Request, id int) {
	if !s.allowMutation(w, r) {
		return
	}

	var req updateProductRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.DropPercentage != nil && (*req.DropPercentage < 0 || *req.DropPercentage > 100) {
		s.writeError(w, http.StatusBadRequest, "Drop percentage must be between 0 and 100")
		return
	}

	product, err := s.store.Update(r.Context(), id, tracker.ProductUpdate{
		NotifyOnDrop:   req.NotifyOnDrop,
		DropPercentage: req.DropPercentage,
	})
	if err != nil {
		s.writeNotFoundOrError(w, err, "Product not found")
		return
	}

	s.logger.Info("Product updated", "product_id", id)
	s.writeJSON(w, http.StatusOK, product)
}

func (s *Server) writeNotFoundOrError(w http.ResponseWriter, err error, msg string) {
	if s.isNotFound(err) {
		s.writeError(w, http.StatusNotFound, msg)
		return
	}
	s.logger.Error("Store operation failed", "error", err)
	s.writeError(w, http.StatusInternalServerError, "Internal server error")
}

// pathID parses a bare integer path segment, rejecting trailing segments.
func pathID(segment string) (int, bool) {
	segment = strings.TrimSuffix(segment, "/")
	if segment == "" || strings.Contains(segment, "/") {
		return 0, false
	}
	id, err := strconv.Atoi(segment)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
