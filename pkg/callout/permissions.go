package callout

import (
	"strconv"

	"github.com/airtai/fastagency-sub000/pkg/subjects"
)

// Permissions computes the subjects a verified client may publish and
// subscribe to: the initiate subject, its two thread subjects, its reply
// inbox and the management API of one stream.
func Permissions(userID int64, deploymentID, threadID, stream string) ([]string, error) {
	thread := subjects.Thread{
		UserID:       strconv.FormatInt(userID, 10),
		DeploymentID: deploymentID,
		ThreadID:     threadID,
	}
	server, err := thread.ServerMessages()
	if err != nil {
		return nil, err
	}
	client, err := thread.ClientMessages()
	if err != nil {
		return nil, err
	}
	inbox, err := subjects.InboxPrefix(threadID)
	if err != nil {
		return nil, err
	}
	mgmt, err := subjects.StreamManagement(stream)
	if err != nil {
		return nil, err
	}

	allowed := []string{subjects.InitiateChat, server, client, inbox + ".>"}
	return append(allowed, mgmt...), nil
}
