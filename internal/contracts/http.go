package contracts

import "github.com/alecsomers1980/aloe-signs-website/internal/domain"

type AddressDTO struct {
	Street     string `json:"street" validate:"required"`
	City       string `json:"city" validate:"required"`
	Province   string `json:"province"`
	PostalCode string `json:"postalCode" validate:"required"`
}

type OrderItemDTO struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name" validate:"required"`
	Size      string  `json:"size"`
	Quantity  int     `json:"quantity" validate:"gt=0"`
	Price     float64 `json:"price" validate:"gte=0"`
	Image     string  `json:"image"`
}

// CreateOrderRequest is the checkout form posted by the storefront. Subtotal
// and total are the client's own figures and only cross-checked.
type CreateOrderRequest struct {
	CustomerName    string         `json:"customerName" validate:"required"`
	CustomerEmail   string         `json:"customerEmail" validate:"required,email"`
	CustomerPhone   string         `json:"customerPhone" validate:"required"`
	CustomerAddress *AddressDTO    `json:"customerAddress" validate:"required"`
	Items           []OrderItemDTO `json:"items" validate:"required,min=1,dive"`
	Subtotal        *float64       `json:"subtotal"`
	Shipping        float64        `json:"shipping" validate:"gte=0"`
	Total           *float64       `json:"total"`
}

type CreatedOrderDTO struct {
	ID          string  `json:"id"`
	OrderNumber string  `json:"orderNumber"`
	Total       float64 `json:"total"`
}

type CreateOrderResponse struct {
	Success bool            `json:"success"`
	Order   CreatedOrderDTO `json:"order"`
}

type OrderResponse struct {
	Success bool         `json:"success,omitempty"`
	Order   domain.Order `json:"order"`
}

type ListOrdersResponse struct {
	Success bool           `json:"success"`
	Orders  []domain.Order `json:"orders"`
	Total   int            `json:"total"`
	Limit   int            `json:"limit"`
	Offset  int            `json:"offset"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

type CheckoutResponse struct {
	Success    bool               `json:"success"`
	ProcessURL string             `json:"processUrl"`
	Fields     []CheckoutFieldDTO `json:"fields"`
}

type CheckoutFieldDTO struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type AdminLoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type AdminLoginResponse struct {
	Success   bool   `json:"success"`
	Token     string `json:"token"`
	ExpiresAt string `json:"expiresAt"`
}

type SuccessResponse struct {
	Success bool `json:"success"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}
