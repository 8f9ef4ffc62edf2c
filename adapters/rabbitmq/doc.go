/*
Package rabbitmq hosts services on RabbitMQ using the classic RPC pattern.
Each endpoint consumes a queue bound to a topic exchange with the routing key "<service>.<endpoint>";
replies are published to the request's ReplyTo queue carrying its CorrelationId.
*/
package rabbitmq
