package schema

import language "github.com/hanpama/appsynclocal/internal/language"

// PreludeName is the source name reported for errors in the AppSync prelude.
const PreludeName = "appsync-prelude.graphql"

// Prelude declares the scalars and directives AppSync provides implicitly.
// It is merged ahead of every user schema.
const Prelude = `
"A date string in the format YYYY-MM-DD."
scalar AWSDate
"A time string in the format hh:mm:ss.sss."
scalar AWSTime
"A date-time string in the format YYYY-MM-DDThh:mm:ss.sssZ."
scalar AWSDateTime
"The number of seconds that have elapsed since 1970-01-01T00:00Z."
scalar AWSTimestamp
"An email address in the format local-part@domain-part."
scalar AWSEmail
"A JSON string."
scalar AWSJSON
"A URL as defined by RFC 1738."
scalar AWSURL
"A phone number."
scalar AWSPhone
"A valid IPv4 or IPv6 address."
scalar AWSIPAddress

"Publishes the result of the listed mutations to this subscription."
directive @aws_subscribe(mutations: [String!]!) on FIELD_DEFINITION
"Restricts a field to the listed Cognito user pool groups."
directive @aws_auth(cognito_groups: [String!]!) on FIELD_DEFINITION
"Requires an API key."
directive @aws_api_key on FIELD_DEFINITION | OBJECT
"Requires IAM authorization."
directive @aws_iam on FIELD_DEFINITION | OBJECT
"Requires OpenID Connect authorization."
directive @aws_oidc on FIELD_DEFINITION | OBJECT
"Requires a Cognito user pool access token, optionally in one of the listed groups."
directive @aws_cognito_user_pools(cognito_groups: [String!]) on FIELD_DEFINITION | OBJECT
`

// PreludeSource returns the prelude as a parser source.
func PreludeSource() *language.Source {
	return &language.Source{Name: PreludeName, Input: Prelude}
}
