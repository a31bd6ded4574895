package protocol

// Call names understood by the router. The set may grow between client and
// server versions, which is why unknown names are echoed instead of rejected.
const (
	CallInit                       = "init"
	CallGetDeviceDetails           = "getDeviceDetails"
	CallGetComponentList           = "getComponentList"
	CallGetComponent               = "getComponent"
	CallStartComponent             = "startComponent"
	CallStopComponent              = "stopComponent"
	CallReinstallComponent         = "reinstallComponent"
	CallGetConfig                  = "getConfig"
	CallUpdateConfig               = "updateConfig"
	CallSubscribeToComponent       = "subscribeToComponent"
	CallUnsubscribeToComponent     = "unsubscribeToComponent"
	CallSubscribeToComponentLogs   = "subscribeToComponentLogs"
	CallUnsubscribeToComponentLogs = "unsubscribeToComponentLogs"
	CallForcePushComponentList     = "forcePushComponentList"
	CallForcePushDependencyGraph   = "forcePushDependencyGraph"
	CallSubscribeToPubSubTopic     = "subscribeToPubSubTopic"
	CallPublishToPubSubTopic       = "publishToPubSubTopic"
	CallUnsubscribeToPubSubTopic   = "unsubscribeToPubSubTopic"

	CallStreamListStreams         = "streamManagerListStreams"
	CallStreamDescribeStream      = "streamManagerDescribeStream"
	CallStreamDeleteMessageStream = "streamManagerDeleteMessageStream"
	CallStreamReadMessages        = "streamManagerReadMessages"
	CallStreamAppendMessage       = "streamManagerAppendMessage"
	CallStreamCreateMessageStream = "streamManagerCreateMessageStream"
	CallStreamUpdateMessageStream = "streamManagerUpdateMessageStream"
)

// NotAuthenticated is the payload answering a failed init.
const NotAuthenticated = "Not authenticated"

// IoTCoreSource selects the MQTT transport in pub/sub calls. Any other
// source or destination goes to the local bus.
const IoTCoreSource = "iotcore"

// LocalSource names the local bus where a source has to be spelled out.
const LocalSource = "local"

// PubSubSubscribeArgs is the JSON document carried by subscribeToPubSubTopic.
type PubSubSubscribeArgs struct {
	TopicFilter string `json:"topicFilter" validate:"required"`
	Source      string `json:"source"`
	SubID       string `json:"subId" validate:"required"`
}

// PubSubPublishArgs is the JSON document carried by publishToPubSubTopic.
type PubSubPublishArgs struct {
	Topic       string `json:"topic" validate:"required"`
	Destination string `json:"destination"`
	Payload     string `json:"payload"`
}

// CommunicationMessage relays one transport message to a subscribed client.
type CommunicationMessage struct {
	SubID           string `json:"subId"`
	SubscribedTopic string `json:"subscribedTopic"`
	Topic           string `json:"topic"`
	Payload         string `json:"payload"`
}
