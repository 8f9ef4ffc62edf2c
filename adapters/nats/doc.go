/*
Package nats hosts services on NATS through the nats.go micro framework and provides a Caller for
invoking their endpoints. Endpoints listen on "<service>.<endpoint>"; handler errors become micro
error replies carrying the Nats-Service-Error headers.
*/
package nats
