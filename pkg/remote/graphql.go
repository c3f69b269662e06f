package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// GraphQLQuery is one GraphQL operation.
type GraphQLQuery struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
	OperationName string         `json:"operationName,omitempty"`

	// System targets the system schema (/graphql/system) instead of the
	// project collections (/graphql).
	System bool `json:"-"`
}

// Path returns the endpoint the query is posted to.
func (q GraphQLQuery) Path() string {
	if q.System {
		return "/graphql/system"
	}
	return "/graphql"
}

// GraphQL posts a query. dest receives the "data" member. Errors reported in
// a 2xx body are returned as an *APIError carrying the response status.
func (c *Client) GraphQL(ctx context.Context, q GraphQLQuery, cred Credential, dest any) (Response, error) {
	return c.do(ctx, http.MethodPost, q.Path(), nil, q, "", cred, decodeGraphQL(dest))
}

func decodeGraphQL(dest any) decoder {
	return func(status int, body []byte) error {
		var envelope struct {
			Data   json.RawMessage `json:"data"`
			Errors []ErrorItem     `json:"errors"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return fmt.Errorf("remote: decode graphql response: %w", err)
		}
		if len(envelope.Errors) > 0 {
			return &APIError{Status: status, Errors: envelope.Errors}
		}
		if dest == nil || len(envelope.Data) == 0 || string(envelope.Data) == "null" {
			return nil
		}
		if err := json.Unmarshal(envelope.Data, dest); err != nil {
			return fmt.Errorf("remote: decode graphql data: %w", err)
		}
		return nil
	}
}
