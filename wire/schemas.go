package wire

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	ivxp "github.com/ivxp/ivxp-go"
)

// timestampPattern is the wire grammar: seconds precision required, optional
// fractional seconds, Z or an explicit offset. Backslashes are doubled so the
// pattern survives JSON decoding inside the schema documents below.
const timestampPattern = `^\\d{4}-\\d{2}-\\d{2}T\\d{2}:\\d{2}:\\d{2}(\\.\\d+)?(Z|[+-]\\d{2}:\\d{2})$`

const addressPattern = `^0x[0-9a-fA-F]{40}$`
const txHashPattern = `^0x[0-9a-fA-F]{64}$`
const contentHashPattern = `^[0-9a-f]{64}$`
const usdcPattern = `^\\d+\\.\\d{6}$`

var (
	serviceQuoteSchema = mustCompile(`{
		"type": "object",
		"required": ["order_id", "provider_agent", "quote"],
		"properties": {
			"order_id": {"type": "string", "minLength": 1},
			"provider_agent": {
				"type": "object",
				"required": ["name", "wallet_address"],
				"properties": {
					"name": {"type": "string"},
					"wallet_address": {"type": "string", "pattern": "` + addressPattern + `"}
				}
			},
			"quote": {
				"type": "object",
				"required": ["price_usdc", "estimated_delivery", "payment_address", "network"],
				"properties": {
					"price_usdc": {"type": "string", "pattern": "` + usdcPattern + `"},
					"estimated_delivery": {"type": "string", "pattern": "` + timestampPattern + `"},
					"payment_address": {"type": "string", "pattern": "` + addressPattern + `"},
					"network": {"type": "string", "enum": ["base-mainnet", "base-sepolia"]}
				}
			}
		}
	}`)

	serviceRequestSchema = mustCompile(`{
		"type": "object",
		"required": ["client_agent", "service_request"],
		"properties": {
			"client_agent": {
				"type": "object",
				"required": ["name", "wallet_address"],
				"properties": {
					"name": {"type": "string"},
					"wallet_address": {"type": "string", "pattern": "` + addressPattern + `"}
				}
			},
			"service_request": {
				"type": "object",
				"required": ["type", "description", "budget_usdc"],
				"properties": {
					"type": {"type": "string", "minLength": 1},
					"description": {"type": "string"},
					"budget_usdc": {"type": "number", "minimum": 0}
				}
			}
		}
	}`)

	deliveryRequestSchema = mustCompile(`{
		"type": "object",
		"required": ["order_id", "payment_proof", "signature", "signed_message"],
		"properties": {
			"order_id": {"type": "string", "minLength": 1},
			"payment_proof": {
				"type": "object",
				"required": ["tx_hash", "from_address", "network"],
				"properties": {
					"tx_hash": {"type": "string", "pattern": "` + txHashPattern + `"},
					"from_address": {"type": "string", "pattern": "` + addressPattern + `"},
					"network": {"type": "string"}
				}
			},
			"signature": {"type": "string", "minLength": 1},
			"signed_message": {"type": "string", "minLength": 1},
			"delivery_endpoint": {"type": "string"}
		}
	}`)

	deliveryResponseSchema = mustCompile(`{
		"type": "object",
		"required": ["order_id", "content", "content_type", "content_hash"],
		"properties": {
			"order_id": {"type": "string", "minLength": 1},
			"content": {"type": "string"},
			"content_type": {"type": "string", "minLength": 1},
			"content_hash": {"type": "string", "pattern": "` + contentHashPattern + `"},
			"content_encoding": {"type": "string", "enum": ["base64"]}
		}
	}`)

	orderStatusSchema = mustCompile(`{
		"type": "object",
		"required": ["order_id", "status", "service", "created_at"],
		"properties": {
			"order_id": {"type": "string", "minLength": 1},
			"status": {"type": "string", "enum": ["quoted", "paid", "processing", "delivered", "delivery_failed", "confirmed"]},
			"service": {"type": "string"},
			"created_at": {"type": "string", "pattern": "` + timestampPattern + `"},
			"content_hash": {"type": "string", "pattern": "` + contentHashPattern + `"}
		}
	}`)

	confirmationSchema = mustCompile(`{
		"type": "object",
		"required": ["order_id", "confirmation"],
		"properties": {
			"order_id": {"type": "string", "minLength": 1},
			"confirmation": {
				"type": "object",
				"required": ["message", "signature", "signer"],
				"properties": {
					"message": {"type": "string", "minLength": 1},
					"signature": {"type": "string", "minLength": 1},
					"signer": {"type": "string", "pattern": "` + addressPattern + `"}
				}
			}
		}
	}`)
)

func mustCompile(schema string) *gojsonschema.Schema {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
	if err != nil {
		panic(fmt.Sprintf("invalid wire schema: %v", err))
	}
	return compiled
}

func validate(schema *gojsonschema.Schema, doc []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return ivxp.WrapError(ivxp.ErrCodeInvalidResponse, "message is not valid JSON", err)
	}
	if result.Valid() {
		return nil
	}
	var fields []string
	for _, desc := range result.Errors() {
		fields = append(fields, desc.Field())
	}
	return ivxp.NewError(ivxp.ErrCodeInvalidResponse,
		fmt.Sprintf("message failed schema validation: %v", fields))
}

// ValidateServiceQuote checks raw against the ServiceQuote schema and decodes it.
func ValidateServiceQuote(raw []byte) (*ServiceQuote, error) {
	if err := validate(serviceQuoteSchema, raw); err != nil {
		return nil, err
	}
	var quote ServiceQuote
	if err := json.Unmarshal(raw, &quote); err != nil {
		return nil, ivxp.WrapError(ivxp.ErrCodeInvalidResponse, "failed to decode service quote", err)
	}
	return &quote, nil
}

// ValidateServiceRequest checks raw against the ServiceRequest schema and decodes it.
func ValidateServiceRequest(raw []byte) (*ServiceRequest, error) {
	if err := validate(serviceRequestSchema, raw); err != nil {
		return nil, err
	}
	var req ServiceRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, ivxp.WrapError(ivxp.ErrCodeInvalidResponse, "failed to decode service request", err)
	}
	return &req, nil
}

// ValidateDeliveryRequest checks raw against the DeliveryRequest schema and decodes it.
func ValidateDeliveryRequest(raw []byte) (*DeliveryRequest, error) {
	if err := validate(deliveryRequestSchema, raw); err != nil {
		return nil, err
	}
	var req DeliveryRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, ivxp.WrapError(ivxp.ErrCodeInvalidResponse, "failed to decode delivery request", err)
	}
	return &req, nil
}

// ValidateDeliveryResponse checks raw against the DeliveryResponse schema and decodes it.
func ValidateDeliveryResponse(raw []byte) (*DeliveryResponse, error) {
	if err := validate(deliveryResponseSchema, raw); err != nil {
		return nil, err
	}
	var resp DeliveryResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, ivxp.WrapError(ivxp.ErrCodeInvalidResponse, "failed to decode delivery response", err)
	}
	return &resp, nil
}

// ValidateOrderStatus checks raw against the OrderStatus schema and decodes it.
func ValidateOrderStatus(raw []byte) (*OrderStatus, error) {
	if err := validate(orderStatusSchema, raw); err != nil {
		return nil, err
	}
	var status OrderStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return nil, ivxp.WrapError(ivxp.ErrCodeInvalidResponse, "failed to decode order status", err)
	}
	return &status, nil
}

// ValidateDeliveryConfirmation checks raw against the DeliveryConfirmation
// schema and decodes it.
func ValidateDeliveryConfirmation(raw []byte) (*DeliveryConfirmation, error) {
	if err := validate(confirmationSchema, raw); err != nil {
		return nil, err
	}
	var conf DeliveryConfirmation
	if err := json.Unmarshal(raw, &conf); err != nil {
		return nil, ivxp.WrapError(ivxp.ErrCodeInvalidResponse, "failed to decode delivery confirmation", err)
	}
	return &conf, nil
}
