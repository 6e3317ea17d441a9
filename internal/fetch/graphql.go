package fetch

import (
	"context"
	"strings"

	"github.com/goccy/go-json"
)

type GraphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// GraphQLError carries the messages of a response's `errors` field.
type GraphQLError struct {
	Messages []string
}

func (e *GraphQLError) Error() string {
	return "graphql: " + strings.Join(e.Messages, "; ")
}

// GraphQL posts a query and decodes `data` into out. When the response carries
// errors, out is still decoded and a *GraphQLError is returned alongside the raw body.
func (c *Client) GraphQL(ctx context.Context, endpoint string, headers map[string]string, req GraphQLRequest, out any) ([]byte, error) {
	var res graphqlResponse
	body, err := c.PostJSON(ctx, endpoint, headers, req, &res)
	if err != nil {
		return body, err
	}

	if len(res.Data) > 0 && string(res.Data) != "null" {
		err = json.Unmarshal(res.Data, out)
		if err != nil {
			c.tel.ReportWarning(report_client_graphql, err, endpoint)
			return body, &DecodeError{URL: endpoint, Err: err}
		}
	}

	if len(res.Errors) > 0 {
		gqlErr := &GraphQLError{}
		for _, e := range res.Errors {
			gqlErr.Messages = append(gqlErr.Messages, e.Message)
		}
		return body, gqlErr
	}
	return body, nil
}
