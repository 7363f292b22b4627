package resolver

import "github.com/gustycube/ip-sentinel/internal/trace"

func traceInfo(colo string) trace.Info {
	return trace.Info{HTTP: "HTTP/2", TLS: "TLSv1.3", VisitScheme: "https", Colo: colo}
}
