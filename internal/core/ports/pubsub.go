package ports

const (
	AnyTopic         = "*"
	UnspecifiedTopic = ""

	// TopicBalanceUpdated is published every time the derived balance
	// changes.
	TopicBalanceUpdated = "BALANCE_UPDATED"
	// TopicCoopCloseGaveUp is published once per campaign that gives up on
	// closing some channels cooperatively.
	TopicCoopCloseGaveUp = "COOP_CLOSE_GAVE_UP"
	// TopicTransferSettled is published when a transfer reaches its final
	// successful status.
	TopicTransferSettled = "TRANSFER_SETTLED"
)

// Topics returns the list of topics that can be subscribed to.
func Topics() []string {
	return []string{
		TopicBalanceUpdated, TopicCoopCloseGaveUp, TopicTransferSettled, AnyTopic,
	}
}

// Notifier pushes a message to whoever is interested in the given topic.
type Notifier interface {
	Publish(topic string, message string) error
}

type Subscription interface {
	Topic() string
	Id() string
	IsSecured() bool
	NotifyAt() string
}

// PubSub defines the methods of a pubsub service. Subscriptions are
// persisted by the service itself.
type PubSub interface {
	Notifier
	// Subscribe adds a new subscription for the requested topic.
	Subscribe(topic, endpoint, secret string) (string, error)
	// Unsubscribe removes the subscription with the given id.
	Unsubscribe(id string) error
	// ListSubscriptionsForTopic returns the info of all clients subscribed for
	// a certain topic.
	ListSubscriptionsForTopic(topic string) ([]Subscription, error)
}
