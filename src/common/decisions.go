package common

import (
	"context"
	"log"

	"arts/src/config"
	awslib "arts/src/lib/aws"

	"github.com/tidwall/gjson"
)

// DecisionsConsumer drives ticket decisions from the decision queue. Message
// bodies look like {"id": "...", "action": "confirm|accept|deny"}; anything
// else is logged and dropped.
func DecisionsConsumer(cfg *config.Config, manager *TicketManager) {
	qname := cfg.DecisionQueue
	if qname == "" {
		return
	}
	c := awslib.NewSQSConsumer(qname, decisionHandler(qname, manager))
	c.Listen()
}

func decisionHandler(qname string, manager *TicketManager) func(body string) {
	return func(body string) {
		if !gjson.Valid(body) {
			log.Printf("[%s]: Received invalid json body. Aborting", qname)
			return
		}
		id := gjson.Get(body, "id").String()
		action := gjson.Get(body, "action").String()
		if id == "" {
			log.Printf("[%s]: Message has no ticket id. Aborting", qname)
			return
		}
		ctx := context.Background()
		var err error
		switch action {
		case "confirm":
			err = manager.Confirm(ctx, id)
		case "accept":
			err = manager.Accept(ctx, id)
		case "deny":
			err = manager.Deny(ctx, id)
		default:
			log.Printf("[%s]: Unknown action %s for ticket %s", qname, action, id)
			return
		}
		if err != nil {
			log.Printf("[%s]: Error applying %s to ticket %s: %s\n", qname, action, id, err.Error())
		}
	}
}
