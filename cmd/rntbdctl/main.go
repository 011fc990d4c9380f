package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shettyh/rntbd"
)

func main() {
	addrFlag := flag.String("addr", "rntbd://localhost:19080", "Physical replica URI (rntbd:// or rntbds://)")
	replicaFlag := flag.String("replica", "/partitions/00000000-0000-0000-0000-000000000000/replicas/1p/", "ReplicaPath header to send")
	resourceFlag := flag.Uint("resource-type", 1, "ResourceType of the synthetic request")
	operationFlag := flag.Uint("operation-type", 1, "OperationType of the synthetic request")
	timeoutFlag := flag.Duration("timeout", 10*time.Second, "Per-request timeout")
	connectTimeoutFlag := flag.Duration("connect-timeout", 5*time.Second, "Dial timeout")

	flag.Usage = printUsage
	flag.Parse()

	conn, err := rntbd.Dial(*addrFlag,
		rntbd.WithRequestTimeout(*timeoutFlag),
		rntbd.WithConnectTimeout(*connectTimeoutFlag),
	)
	if err != nil {
		log.Fatalf("dial %s: %v", *addrFlag, err)
	}
	defer conn.Close()

	resultCh, err := conn.Submit(rntbd.RequestArgs{
		ActivityID:    uuid.New(),
		ResourceType:  uint16(*resourceFlag),
		OperationType: uint16(*operationFlag),
		ReplicaPath:   *replicaFlag,
	})
	if err != nil {
		log.Fatalf("submit: %v", err)
	}

	result := <-resultCh
	if result.Err != nil {
		log.Fatalf("request failed: %v", result.Err)
	}

	fmt.Printf("status=%d activity_id=%s payload_bytes=%d\n",
		result.Response.Status, result.Response.ActivityID, len(result.Response.Payload))
}

func printUsage() {
	fmt.Println("rntbdctl - RNTBD connection diagnostic")
	fmt.Println("Usage:")
	fmt.Println("  rntbdctl -addr <rntbd://host:port> [-replica <path>] [-resource-type <n>] [-operation-type <n>] [-timeout <duration>]")
	fmt.Println()
	fmt.Println("Example:")
	fmt.Println("  rntbdctl -addr rntbd://10.0.0.5:19103 -replica /partitions/abc/replicas/1p/")
}
