package redisstore

import "fmt"

// Key layout. Everything is scoped per owner so that store paths, scans and
// change channels never cross tenant boundaries.
//
//	taskforge:task:{owner}:{id}   JSON-encoded task record
//	taskforge:tasks:{owner}       set of task IDs (scan index)
//	taskforge:changes:{owner}     pub/sub channel carrying changed task IDs

func taskKey(ownerID, taskID string) string {
	return fmt.Sprintf("taskforge:task:%s:%s", ownerID, taskID)
}

func indexKey(ownerID string) string {
	return fmt.Sprintf("taskforge:tasks:%s", ownerID)
}

func changeChannel(ownerID string) string {
	return fmt.Sprintf("taskforge:changes:%s", ownerID)
}
