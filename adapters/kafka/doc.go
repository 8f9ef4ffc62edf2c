/*
Package kafka hosts services on Kafka using a request/reply convention.
Each endpoint consumes the topic "<service>.<endpoint>"; a request names its reply topic in the
"reply-to" header and replies carry the request's "correlation-id" header.
*/
package kafka
