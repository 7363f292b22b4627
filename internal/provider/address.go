package provider

// IPIPNet is the response of myip.ipip.net/json.
type IPIPNet struct {
	Ret  string `json:"ret"`
	Data struct {
		IP       string   `json:"ip"`
		Location []string `json:"location"`
	} `json:"data"`
}

// PlainIP is the common {"ip": "..."} shape (ipify, useragentinfo, ipapi.co).
type PlainIP struct {
	IP string `json:"ip"`
}

func DecodeIPIPNet(b []byte) (string, error) {
	var r IPIPNet
	if err := json.Unmarshal(b, &r); err != nil {
		return "", err
	}
	return validIP(r.Data.IP)
}

func DecodeJSONIP(b []byte) (string, error) {
	var r PlainIP
	if err := json.Unmarshal(b, &r); err != nil {
		return "", err
	}
	return validIP(r.IP)
}

// DecodeTextIP reads a bare text address such as api.ipify.org returns.
func DecodeTextIP(b []byte) (string, error) {
	return validIP(string(b))
}

func DecodeIPAPICoIP(b []byte) (string, error) {
	r, err := decodeIPAPICo(b)
	if err != nil {
		return "", err
	}
	return validIP(r.IP)
}
