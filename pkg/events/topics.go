package events

const (
	TopicDHCPRenewAlarm   = "osvlease:events:alarm:dhcp-renew:v4"
	TopicDHCPv6RenewAlarm = "osvlease:events:alarm:dhcp-renew:v6"
	TopicLeaseState       = "osvlease:events:lease:state"
	TopicLeaseOutcome     = "osvlease:events:lease:outcome"
)
